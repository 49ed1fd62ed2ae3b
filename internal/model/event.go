// Package model defines the wire and storage types shared by the ingest
// boundary and the worker.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable user event. EventID is the idempotency key: the
// store applies an event at most once per EventID regardless of how many
// times the broker delivers it.
type Event struct {
	EventID    uuid.UUID      `json:"event_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	UserID     int64          `json:"user_id"`
	EventType  string         `json:"event_type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// EventBatch is the payload published to the working subject and the body
// accepted by POST /v1/events.
type EventBatch struct {
	Events []Event `json:"events"`
}

// IngestResponse acknowledges acceptance-for-processing, not processing.
type IngestResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	EventsCount int    `json:"events_count"`
}

// DAURow is one day of distinct-actor counts.
type DAURow struct {
	Date        string `json:"date"`
	UniqueUsers int64  `json:"unique_users"`
}

// TopEventRow is one entry of the event-type frequency ranking.
type TopEventRow struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

// RetentionCohort describes how a cohort of users returns over rolling
// windows. RetentionWindows holds percentages indexed by window number.
type RetentionCohort struct {
	CohortDate       string    `json:"cohort_date"`
	UsersCount       int64     `json:"users_count"`
	RetentionWindows []float64 `json:"retention_windows"`
}
