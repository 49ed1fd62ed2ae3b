// Package consumer implements the worker's message-retry state machine:
// idempotent persistence, exponential backoff via re-publish, and
// dead-letter routing once the retry budget is exhausted.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/eventloom-io/eventloom/internal/backoff"
	"github.com/eventloom-io/eventloom/internal/dlq"
	"github.com/eventloom-io/eventloom/internal/logging"
	"github.com/eventloom-io/eventloom/internal/messaging"
	"github.com/eventloom-io/eventloom/internal/metrics"
	"github.com/eventloom-io/eventloom/internal/model"
	"github.com/eventloom-io/eventloom/internal/repository"
)

// Store is the persistence boundary the worker writes through.
type Store interface {
	ApplyEvents(ctx context.Context, events []model.Event) (repository.ApplyResult, error)
}

// Config bounds the retry state machine.
type Config struct {
	// Budget caps the attempt count; once a message's attempt count
	// reaches it, the next failure dead-letters instead of republishing.
	Budget int

	// Backoff maps an attempt count (>= 1) to the delay before that
	// attempt becomes eligible. Defaults to the exponential policy.
	Backoff func(attempt int) time.Duration

	// Now is the clock; defaults to time.Now. Injected for tests.
	Now func() time.Time

	// AckWait is how long the broker waits for an ack before redelivering.
	AckWait time.Duration

	// MaxAckPending bounds unacknowledged in-flight deliveries.
	MaxAckPending int
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = 5
	}
	if c.Backoff == nil {
		c.Backoff = backoff.Default().Delay
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 256
	}
	return c
}

// Worker consumes the working subject as part of the shared consumer
// group. It holds no correctness-relevant state in memory: retry state
// lives in message headers, idempotency witnesses live in the store, so a
// worker may be killed between receive and ack at any attempt count.
type Worker struct {
	client *messaging.Client
	store  Store
	sink   *dlq.Queue
	log    *logging.Logger
	cfg    Config
}

// New creates a Worker.
func New(client *messaging.Client, store Store, sink *dlq.Queue, log *logging.Logger, cfg Config) *Worker {
	if log == nil {
		log = logging.Default()
	}
	return &Worker{
		client: client,
		store:  store,
		sink:   sink,
		log:    log,
		cfg:    cfg.withDefaults(),
	}
}

// Run attaches to the shared durable consumer and processes deliveries
// until the returned stop function is called.
func (w *Worker) Run(ctx context.Context) (func(), error) {
	cons, err := w.client.WorkersConsumer(ctx, w.cfg.AckWait, w.cfg.MaxAckPending)
	if err != nil {
		return nil, fmt.Errorf("attach consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		w.handle(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("start consuming: %w", err)
	}

	w.log.InfoContext(ctx, "worker started",
		logging.Subject(messaging.SubjectEventsIngest),
		"durable", messaging.DurableWorkers,
		"budget", w.cfg.Budget)

	return cc.Stop, nil
}

// handle runs the state machine for one delivery.
func (w *Worker) handle(ctx context.Context, msg jetstream.Msg) {
	start := w.cfg.Now()
	defer func() {
		metrics.ProcessingDuration.Observe(w.cfg.Now().Sub(start).Seconds())
	}()

	env := messaging.ParseEnvelope(msg.Headers())

	// Backoff gate: a republished retry is not eligible until NotBefore.
	// Delaying redelivery broker-side keeps the worker free and the
	// attempt count untouched.
	if wait := env.NotBefore.Sub(w.cfg.Now()); wait > 0 {
		if err := msg.NakWithDelay(wait); err != nil {
			w.log.ErrorContext(ctx, "nak for backoff failed", logging.Error(err))
		}
		return
	}

	var batch model.EventBatch
	if err := json.Unmarshal(msg.Data(), &batch); err != nil {
		// Malformed input cannot self-heal via retry: park it immediately,
		// skipping the retry path entirely.
		w.log.WarnContext(ctx, "malformed payload, dead-lettering",
			logging.Subject(msg.Subject()), logging.Error(err))
		w.deadLetter(ctx, msg, env, dlq.ReasonMalformed, err)
		return
	}

	res, err := w.store.ApplyEvents(ctx, batch.Events)
	if err == nil {
		metrics.EventsPersisted.Add(float64(res.Applied))
		metrics.EventsDuplicate.Add(float64(res.Duplicates))
		if res.Duplicates > 0 {
			w.log.InfoContext(ctx, "skipped already-witnessed events",
				"duplicates", res.Duplicates, "applied", res.Applied)
		}
		if ackErr := msg.Ack(); ackErr != nil {
			w.log.ErrorContext(ctx, "ack failed", logging.Error(ackErr))
		}
		return
	}

	// Transient failure. The whole transaction rolled back, so nothing
	// from this batch is committed; replaying it is safe and the gate
	// skips whatever an earlier attempt already witnessed. The envelope,
	// not the individual event, is the retryable unit.
	if env.AttemptCount >= w.cfg.Budget {
		w.log.ErrorContext(ctx, "retry budget exhausted, dead-lettering",
			logging.Attempt(env.AttemptCount), logging.Error(err))
		w.deadLetter(ctx, msg, env, dlq.ReasonRetriesExhausted, err)
		return
	}

	w.retry(ctx, msg, env, err)
}

// retry republishes the message to its origin subject with the attempt
// count incremented and an eligibility gate set by the backoff policy,
// then acknowledges the original so it is not redelivered.
func (w *Worker) retry(ctx context.Context, msg jetstream.Msg, env messaging.Envelope, cause error) {
	next := env
	next.AttemptCount++
	next.LastError = cause.Error()
	if next.OriginSubject == "" {
		next.OriginSubject = msg.Subject()
	}
	next.NotBefore = w.cfg.Now().Add(w.cfg.Backoff(next.AttemptCount))

	if err := w.client.PublishMsg(ctx, next.OriginSubject, msg.Data(), next); err != nil {
		// The original stays unacked so the broker redelivers it; nothing
		// is ever silently dropped.
		w.log.ErrorContext(ctx, "republish failed, nacking original",
			logging.Attempt(next.AttemptCount), logging.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			w.log.ErrorContext(ctx, "nak failed", logging.Error(nakErr))
		}
		return
	}

	metrics.Retries.Inc()
	w.log.WarnContext(ctx, "transient failure, scheduled retry",
		logging.Attempt(next.AttemptCount),
		"not_before", next.NotBefore,
		logging.Error(cause))

	if err := msg.Ack(); err != nil {
		w.log.ErrorContext(ctx, "ack after republish failed", logging.Error(err))
	}
}

// deadLetter parks the message on the terminal subject and acknowledges
// the original. A failed dead-letter publish is an alarm condition: it is
// logged and the original is nacked for redelivery, but the publish
// itself is never retried in a loop here.
func (w *Worker) deadLetter(ctx context.Context, msg jetstream.Msg, env messaging.Envelope, reason string, cause error) {
	if env.OriginSubject == "" {
		env.OriginSubject = msg.Subject()
	}
	if err := w.sink.Write(ctx, msg.Data(), env, reason, cause); err != nil {
		w.log.ErrorContext(ctx, "dead-letter publish failed",
			"reason", reason, logging.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			w.log.ErrorContext(ctx, "nak failed", logging.Error(nakErr))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		w.log.ErrorContext(ctx, "ack after dead-letter failed", logging.Error(err))
	}
}
