package scheduling

type AlertKind string

const (
	AlertPermissionDenied AlertKind = "permission_denied"
	AlertScheduledRemote  AlertKind = "scheduled_remote"
	AlertScheduledLocal   AlertKind = "scheduled_local"
	AlertScheduleError    AlertKind = "schedule_error"
	AlertCancelled        AlertKind = "cancelled"
	AlertCancelError      AlertKind = "cancel_error"
	AlertMessage          AlertKind = "message"
)

// Alert is a user-facing message the screen shows until it is dismissed.
type Alert struct {
	Kind    AlertKind
	Title   string
	Message string
}

type Alerter interface {
	Alert(a Alert)
}

type AlerterFunc func(Alert)

func (f AlerterFunc) Alert(a Alert) { f(a) }

func permissionDeniedAlert() Alert {
	return Alert{Kind: AlertPermissionDenied, Title: "Error", Message: "Push notification permission was not granted!"}
}

func scheduledAlert(remote, rejected bool) Alert {
	if remote {
		return Alert{
			Kind:    AlertScheduledRemote,
			Title:   "Notification Scheduled",
			Message: "The server will push a notification in 1 minute. You can close the app.",
		}
	}
	msg := "You will get a notification in 1 minute. You can close the app."
	if rejected {
		msg = "The server rejected the request, so the notification was scheduled on this device instead. " + msg
	}
	return Alert{Kind: AlertScheduledLocal, Title: "Notification Scheduled", Message: msg}
}

func scheduleErrorAlert() Alert {
	return Alert{Kind: AlertScheduleError, Title: "Error", Message: "Something went wrong while scheduling the notification."}
}

func cancelledAlert() Alert {
	return Alert{Kind: AlertCancelled, Title: "Cancelled", Message: "The scheduled notification was cancelled."}
}

func cancelErrorAlert() Alert {
	return Alert{Kind: AlertCancelError, Title: "Error", Message: "The notification could not be cancelled. It is still scheduled."}
}
