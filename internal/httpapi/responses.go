package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"pushscheduler/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type validationEnvelope struct {
	Error  apiError          `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteJSON(w, http.StatusBadRequest, validationEnvelope{
			Error:  apiError{Code: "validation_error", Message: "invalid request"},
			Fields: verr.Fields,
		})
	case errors.Is(err, domain.ErrValidation):
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid request")
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrNotPending):
		WriteError(w, http.StatusConflict, "not_pending", "notification already dispatched or cancelled")
	case errors.Is(err, domain.ErrUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "unavailable", "service unavailable")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
