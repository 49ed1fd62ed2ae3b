// Package messaging defines the broker topology and the retry envelope
// carried in message headers.
package messaging

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Subject names for the event pipeline.
// Publishers and subscribers rendezvous by subject name.
const (
	// SubjectEventsIngest is the working subject: validated batches land
	// here and retries are re-published here.
	SubjectEventsIngest = "events.ingest"

	// SubjectEventsDLQ is the terminal subject for messages that exhausted
	// their retry budget or could not be decoded.
	SubjectEventsDLQ = "events.dlq"
)

// Stream and consumer names. Workers share DurableWorkers so the broker
// load-balances deliveries across instances; adding capacity is purely a
// matter of starting more worker processes.
const (
	StreamEvents    = "EVENTS"
	StreamEventsDLQ = "EVENTS_DLQ"
	DurableWorkers  = "loom-workers"
)

// EventsStreamConfig returns the working stream configuration.
// WorkQueue retention removes a message once a consumer acknowledges it.
func EventsStreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      StreamEvents,
		Subjects:  []string{SubjectEventsIngest},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    24 * time.Hour,
	}
}

// DLQStreamConfig returns the dead-letter stream configuration.
// Limits retention keeps records around for operator inspection; nothing
// consumes this stream automatically.
func DLQStreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      StreamEventsDLQ,
		Subjects:  []string{SubjectEventsDLQ},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    7 * 24 * time.Hour,
	}
}
