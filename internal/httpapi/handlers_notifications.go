package httpapi

import (
	"net/http"
	"strings"
	"time"

	"pushscheduler/internal/domain"
	"pushscheduler/internal/service"
)

type registerTokenRequest struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	Platform  string `json:"platform"`
	Timestamp string `json:"timestamp"`
}

type notificationTokenResponse struct {
	Token           string  `json:"token"`
	UserID          string  `json:"userId,omitempty"`
	Platform        string  `json:"platform"`
	ClientTimestamp *string `json:"timestamp,omitempty"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

type notificationContent struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

type scheduleNotificationRequest struct {
	Token        string              `json:"token"`
	Delay        *int                `json:"delay"`
	Notification notificationContent `json:"notification"`
	ScheduleTime string              `json:"scheduleTime"`
}

type scheduleAcceptedResponse struct {
	ID     string `json:"id"`
	FireAt string `json:"fireAt"`
	Status string `json:"status"`
}

type scheduledNotificationResponse struct {
	ID           string              `json:"id"`
	Token        string              `json:"token"`
	Delay        int                 `json:"delay"`
	Notification notificationContent `json:"notification"`
	ScheduleTime *string             `json:"scheduleTime,omitempty"`
	FireAt       string              `json:"fireAt"`
	Status       string              `json:"status"`
	LastError    string              `json:"lastError,omitempty"`
	CreatedAt    string              `json:"createdAt"`
	UpdatedAt    string              `json:"updatedAt"`
	SentAt       *string             `json:"sentAt,omitempty"`
}

func (a *api) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var req registerTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	clientTS, ok := parseTimestamp(req.Timestamp)
	if !ok {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"timestamp": "must be an ISO-8601 timestamp"}))
		return
	}

	out, err := a.notificationsSvc.RegisterToken(r.Context(), req.UserID, req.Token, req.Platform, clientTS)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, notificationTokenResponse{
		Token:           out.Token,
		UserID:          out.UserID,
		Platform:        out.Platform,
		ClientTimestamp: formatMillisPtr(out.ClientTimestamp),
		CreatedAt:       formatMillis(out.CreatedAt),
		UpdatedAt:       formatMillis(out.UpdatedAt),
	})
}

func (a *api) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"token": "required"}))
		return
	}

	if err := a.notificationsSvc.DeleteToken(r.Context(), token); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleScheduleNotification(w http.ResponseWriter, r *http.Request) {
	var req scheduleNotificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}
	if req.Delay == nil {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"delay": "required"}))
		return
	}
	scheduleTime, ok := parseTimestamp(req.ScheduleTime)
	if !ok {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"scheduleTime": "must be an ISO-8601 timestamp"}))
		return
	}

	out, err := a.notificationsSvc.ScheduleNotification(r.Context(), service.ScheduleRequest{
		Token:        req.Token,
		DelaySeconds: *req.Delay,
		Title:        req.Notification.Title,
		Body:         req.Notification.Body,
		Data:         req.Notification.Data,
		ScheduleTime: scheduleTime,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, scheduleAcceptedResponse{
		ID:     out.ID,
		FireAt: formatMillis(out.FireAt),
		Status: string(out.Status),
	})
}

func (a *api) handleGetScheduled(w http.ResponseWriter, r *http.Request) {
	out, err := a.notificationsSvc.GetScheduled(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, scheduledNotificationResponse{
		ID:    out.ID,
		Token: out.Token,
		Delay: out.DelaySeconds,
		Notification: notificationContent{
			Title: out.Title,
			Body:  out.Body,
			Data:  out.Data,
		},
		ScheduleTime: formatMillisPtr(out.ScheduleTime),
		FireAt:       formatMillis(out.FireAt),
		Status:       string(out.Status),
		LastError:    out.LastError,
		CreatedAt:    formatMillis(out.CreatedAt),
		UpdatedAt:    formatMillis(out.UpdatedAt),
		SentAt:       formatMillisPtr(out.SentAt),
	})
}

func (a *api) handleCancelScheduled(w http.ResponseWriter, r *http.Request) {
	if err := a.notificationsSvc.CancelScheduled(r.Context(), r.PathValue("id")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseTimestamp accepts an empty string as absent.
func parseTimestamp(raw string) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, false
	}
	t = t.UTC()
	return &t, true
}
