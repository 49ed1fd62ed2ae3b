package logging

import "log/slog"

// Common field names for consistent logging across binaries.
const (
	FieldService  = "service"
	FieldSubject  = "subject"
	FieldEventID  = "event_id"
	FieldAttempt  = "attempt"
	FieldError    = "error"
	FieldDuration = "duration_ms"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Subject returns a slog attribute for the broker subject.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

// EventID returns a slog attribute for an event identifier.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// Attempt returns a slog attribute for a delivery attempt count.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Error returns a slog attribute for an error value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}
