// Package dlq implements the terminal dead-letter sink for messages that
// exhausted their retry budget or could not be decoded.
package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/eventloom-io/eventloom/internal/messaging"
	"github.com/eventloom-io/eventloom/internal/metrics"
)

// Dead-letter reasons recorded on each record.
const (
	ReasonMalformed        = "malformed"
	ReasonRetriesExhausted = "retries_exhausted"
)

// Record is one dead-lettered message: the full original payload plus the
// final retry envelope, enough for forensic replay by an operator.
type Record struct {
	Payload  []byte
	Envelope messaging.Envelope
	Time     time.Time
}

// Queue publishes to and inspects the dead-letter stream. It is
// append-only: nothing consumes it automatically, and a failed publish is
// an alarm condition, never a retry-loop target.
type Queue struct {
	client *messaging.Client
}

// New returns a Queue on the client's dead-letter stream. The stream must
// have been ensured at startup via Client.EnsureStreams.
func New(client *messaging.Client) *Queue {
	return &Queue{client: client}
}

// Write publishes a dead-letter record carrying the original payload, the
// final attempt count and last error, and the reason the message was
// parked. The origin subject is preserved so an operator can re-inject.
func (q *Queue) Write(ctx context.Context, payload []byte, env messaging.Envelope, reason string, cause error) error {
	env.DLQReason = reason
	if cause != nil {
		env.LastError = cause.Error()
	}
	if env.OriginSubject == "" {
		env.OriginSubject = messaging.SubjectEventsIngest
	}
	env.NotBefore = time.Time{}

	if err := q.client.PublishMsg(ctx, messaging.SubjectEventsDLQ, payload, env); err != nil {
		metrics.DLQPublishFailures.Inc()
		return fmt.Errorf("publish dead-letter record: %w", err)
	}

	metrics.DeadLettered.WithLabelValues(reason).Inc()
	return nil
}

// List reads up to limit records from the dead-letter stream without
// consuming them.
func (q *Queue) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	stream, err := q.client.DLQStream(ctx)
	if err != nil {
		return nil, err
	}

	// Ephemeral ack-none consumer: listing never removes records.
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: messaging.SubjectEventsDLQ,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := cons.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch dead-letter records: %w", err)
	}

	var out []Record
	for msg := range msgs.Messages() {
		rec := Record{
			Payload:  msg.Data(),
			Envelope: messaging.ParseEnvelope(msg.Headers()),
			Time:     time.Now().UTC(),
		}
		if md, err := msg.Metadata(); err == nil {
			rec.Time = md.Timestamp
		}
		out = append(out, rec)
	}
	return out, nil
}

// Reinject republishes up to limit dead-letter records to their origin
// subject with the attempt count reset to zero, so they are processed
// exactly like fresh messages. Returns the number re-injected.
func (q *Queue) Reinject(ctx context.Context, limit int) (int, error) {
	records, err := q.List(ctx, limit)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range records {
		subject := rec.Envelope.OriginSubject
		if subject == "" {
			subject = messaging.SubjectEventsIngest
		}
		if err := q.client.PublishMsg(ctx, subject, rec.Payload, messaging.Envelope{}); err != nil {
			return n, fmt.Errorf("reinject record to %s: %w", subject, err)
		}
		n++
	}
	return n, nil
}

// Purge removes all records from the dead-letter stream.
func (q *Queue) Purge(ctx context.Context) error {
	stream, err := q.client.DLQStream(ctx)
	if err != nil {
		return err
	}
	if err := stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dead-letter stream: %w", err)
	}
	return nil
}

// Stats returns message counts from the dead-letter stream.
func (q *Queue) Stats(ctx context.Context) (map[string]any, error) {
	stream, err := q.client.DLQStream(ctx)
	if err != nil {
		return nil, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("dead-letter stream info: %w", err)
	}
	return map[string]any{
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
	}, nil
}
