// Package service bridges the HTTP boundary to the broker.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eventloom-io/eventloom/internal/logging"
	"github.com/eventloom-io/eventloom/internal/messaging"
	"github.com/eventloom-io/eventloom/internal/metrics"
	"github.com/eventloom-io/eventloom/internal/model"
	"github.com/eventloom-io/eventloom/internal/validator"
)

// ErrBrokerUnavailable is returned when the broker connection is down.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// PublishError wraps a failed publish so the handler can answer 502
// instead of 400.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish batch: %v", e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }

// Publisher is the broker boundary the ingest service writes to.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	IsConnected() bool
}

// IngestService validates batches and publishes them to the working
// subject. Acceptance means queued-for-processing; downstream failures
// never propagate back to the caller.
type IngestService struct {
	pub       Publisher
	maxEvents int
	chunkSize int
	log       *logging.Logger
}

// NewIngestService creates the service. chunkSize bounds how many events
// go into a single broker message so no publish exceeds the broker's max
// message size; batches above it are split, never rejected.
func NewIngestService(pub Publisher, maxEvents, chunkSize int, log *logging.Logger) *IngestService {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if log == nil {
		log = logging.Default()
	}
	return &IngestService{pub: pub, maxEvents: maxEvents, chunkSize: chunkSize, log: log}
}

// Accept validates the batch and publishes it in chunks to the working
// subject. Returns the number of accepted events.
func (s *IngestService) Accept(ctx context.Context, batch model.EventBatch) (int, error) {
	if err := validator.ValidateBatch(batch, s.maxEvents); err != nil {
		return 0, err
	}

	if !s.pub.IsConnected() {
		return 0, ErrBrokerUnavailable
	}

	for start := 0; start < len(batch.Events); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(batch.Events) {
			end = len(batch.Events)
		}
		chunk := model.EventBatch{Events: batch.Events[start:end]}

		data, err := json.Marshal(chunk)
		if err != nil {
			return 0, fmt.Errorf("marshal batch: %w", err)
		}
		if err := s.pub.Publish(ctx, messaging.SubjectEventsIngest, data); err != nil {
			return 0, &PublishError{Err: err}
		}
	}

	metrics.BatchesAccepted.Inc()
	metrics.EventsAccepted.Add(float64(len(batch.Events)))
	s.log.InfoContext(ctx, "batch accepted", "events", len(batch.Events))
	return len(batch.Events), nil
}
