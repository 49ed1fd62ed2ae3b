// Package validator checks ingest batches before they are published.
package validator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/eventloom-io/eventloom/internal/model"
)

// MaxEventTypeLen bounds the event_type column.
const MaxEventTypeLen = 100

var (
	ErrEmptyBatch       = errors.New("batch contains no events")
	ErrMissingEventID   = errors.New("event_id is required")
	ErrMissingTimestamp = errors.New("occurred_at is required")
	ErrInvalidUserID    = errors.New("user_id must be positive")
	ErrMissingEventType = errors.New("event_type is required")
	ErrEventTypeTooLong = fmt.Errorf("event_type exceeds %d characters", MaxEventTypeLen)
)

// BatchTooLargeError reports a batch over the configured event cap.
type BatchTooLargeError struct {
	Count int
	Max   int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("too many events: %d, maximum allowed is %d per request", e.Count, e.Max)
}

// ValidateEvent checks a single event's required fields.
func ValidateEvent(e model.Event) error {
	if e.EventID == uuid.Nil {
		return ErrMissingEventID
	}
	if e.OccurredAt.IsZero() {
		return ErrMissingTimestamp
	}
	if e.UserID <= 0 {
		return ErrInvalidUserID
	}
	if e.EventType == "" {
		return ErrMissingEventType
	}
	if len(e.EventType) > MaxEventTypeLen {
		return ErrEventTypeTooLong
	}
	return nil
}

// ValidateBatch checks the batch size cap and every event in it.
// The first invalid event fails the whole batch: acceptance is
// all-or-nothing so the caller never partially publishes a request.
func ValidateBatch(batch model.EventBatch, maxEvents int) error {
	if len(batch.Events) == 0 {
		return ErrEmptyBatch
	}
	if maxEvents > 0 && len(batch.Events) > maxEvents {
		return &BatchTooLargeError{Count: len(batch.Events), Max: maxEvents}
	}
	for i, e := range batch.Events {
		if err := ValidateEvent(e); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}
