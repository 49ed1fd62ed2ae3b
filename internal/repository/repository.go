// Package repository persists events idempotently and serves the
// read-only analytics queries.
package repository

import (
	"context"
	"time"

	"github.com/eventloom-io/eventloom/internal/model"
)

// ApplyResult reports the outcome of an idempotent batch write.
type ApplyResult struct {
	// Applied is the number of events durably written for the first time.
	Applied int

	// Duplicates is the number of events whose identifier was already
	// witnessed; their side effects were skipped.
	Duplicates int
}

// EventStore is the storage boundary used by the worker and the API.
type EventStore interface {
	// ApplyEvents writes the batch with at-most-one application per event
	// identifier. Re-applying an already-witnessed identifier is not an
	// error: it is counted in ApplyResult.Duplicates.
	ApplyEvents(ctx context.Context, events []model.Event) (ApplyResult, error)

	// DailyActiveUsers returns distinct-actor counts per day, inclusive.
	DailyActiveUsers(ctx context.Context, from, to time.Time) ([]model.DAURow, error)

	// TopEvents returns event types ranked by frequency.
	TopEvents(ctx context.Context, from, to time.Time, limit int) ([]model.TopEventRow, error)

	// Retention computes cohort retention over rolling windows.
	// windowType is "day" or "week".
	Retention(ctx context.Context, startDate time.Time, windows int, windowType string) (*model.RetentionCohort, error)

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error
}
