package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventloom-io/eventloom/internal/dlq"
	"github.com/eventloom-io/eventloom/internal/messaging"
	"github.com/eventloom-io/eventloom/internal/model"
	"github.com/eventloom-io/eventloom/internal/repository"
)

// startBroker starts an embedded JetStream-enabled NATS server and returns
// a connected client with the pipeline streams ensured.
func startBroker(t *testing.T) *messaging.Client {
	t.Helper()

	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err, "starting embedded NATS")
	srv.Start()
	t.Cleanup(srv.Shutdown)
	require.True(t, srv.ReadyForConnections(5*time.Second), "embedded NATS not ready")

	cfg := messaging.DefaultConfig()
	cfg.URL = srv.ClientURL()
	client, err := messaging.Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.EnsureStreams(context.Background()))
	return client
}

// fakeStore is an in-memory EventStore double with scriptable failures.
// The witness set makes it idempotent like the real gate.
type fakeStore struct {
	mu        sync.Mutex
	witnessed map[uuid.UUID]bool
	failFirst int   // fail this many calls before succeeding
	failAll   bool
	failErr   error // error returned while failing; nil means a generic one
	calls     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{witnessed: make(map[uuid.UUID]bool)}
}

func (s *fakeStore) ApplyEvents(_ context.Context, events []model.Event) (repository.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.failAll || s.calls <= s.failFirst {
		if s.failErr != nil {
			return repository.ApplyResult{}, s.failErr
		}
		return repository.ApplyResult{}, errors.New("storage unavailable")
	}

	var res repository.ApplyResult
	for _, e := range events {
		if s.witnessed[e.EventID] {
			res.Duplicates++
			continue
		}
		s.witnessed[e.EventID] = true
		res.Applied++
	}
	return res, nil
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeStore) witnessCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.witnessed)
}

func (s *fakeStore) stopFailing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = false
	s.failFirst = 0
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func batchPayload(t *testing.T, events ...model.Event) []byte {
	t.Helper()
	data, err := json.Marshal(model.EventBatch{Events: events})
	require.NoError(t, err)
	return data
}

func someEvent(id uuid.UUID) model.Event {
	return model.Event{
		EventID:    id,
		OccurredAt: time.Now().UTC(),
		UserID:     42,
		EventType:  "login",
	}
}

// fastBackoff keeps retries short while preserving strict monotonicity.
// It records every attempt it is asked about.
type fastBackoff struct {
	mu       sync.Mutex
	attempts []int
}

func (b *fastBackoff) delay(attempt int) time.Duration {
	b.mu.Lock()
	b.attempts = append(b.attempts, attempt)
	b.mu.Unlock()
	return time.Duration(attempt) * 10 * time.Millisecond
}

func (b *fastBackoff) seen() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.attempts...)
}

func runWorker(t *testing.T, client *messaging.Client, store Store, cfg Config) {
	t.Helper()
	w := New(client, store, dlq.New(client), nil, cfg)
	stop, err := w.Run(context.Background())
	require.NoError(t, err)
	t.Cleanup(stop)
}

func TestWorker_PersistsAndAcks(t *testing.T) {
	client := startBroker(t)
	store := newFakeStore()
	runWorker(t, client, store, Config{Budget: 5})

	payload := batchPayload(t, someEvent(uuid.New()), someEvent(uuid.New()))
	require.NoError(t, client.Publish(context.Background(), messaging.SubjectEventsIngest, payload))

	waitFor(t, 5*time.Second, func() bool { return store.witnessCount() == 2 }, "events persisted")

	records, err := dlq.New(client).List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWorker_DuplicateDeliveriesApplyOnce(t *testing.T) {
	client := startBroker(t)
	store := newFakeStore()
	runWorker(t, client, store, Config{Budget: 5})

	// Three deliveries of the same identifier: one persisted row, two
	// duplicate-skip acknowledgments.
	e := someEvent(uuid.New())
	for i := 0; i < 3; i++ {
		require.NoError(t, client.Publish(context.Background(), messaging.SubjectEventsIngest, batchPayload(t, e)))
	}

	waitFor(t, 5*time.Second, func() bool { return store.callCount() >= 3 }, "all deliveries handled")
	assert.Equal(t, 1, store.witnessCount())
}

func TestWorker_TransientFailureRetriesWithIncreasingDelays(t *testing.T) {
	client := startBroker(t)
	store := newFakeStore()
	store.failFirst = 2

	bo := &fastBackoff{}
	runWorker(t, client, store, Config{Budget: 5, Backoff: bo.delay})

	payload := batchPayload(t, someEvent(uuid.New()))
	require.NoError(t, client.Publish(context.Background(), messaging.SubjectEventsIngest, payload))

	waitFor(t, 10*time.Second, func() bool { return store.witnessCount() == 1 }, "event persisted after retries")

	// Two failed attempts mean two republishes with attempts 1 then 2;
	// the policy is strictly increasing in attempt count.
	attempts := bo.seen()
	require.Len(t, attempts, 2)
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, 3, store.callCount())
}

func TestWorker_UniqueViolationRetriesInsteadOfAcking(t *testing.T) {
	client := startBroker(t)
	store := newFakeStore()

	// A unique violation surfacing as an error means the transaction
	// rolled back with nothing committed. Acking here would drop any
	// non-duplicate events in the batch, so the worker must retry; the
	// rerun succeeds with the conflicting identifier skipped by the gate.
	store.failFirst = 1
	store.failErr = &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}

	bo := &fastBackoff{}
	runWorker(t, client, store, Config{Budget: 5, Backoff: bo.delay})

	payload := batchPayload(t, someEvent(uuid.New()), someEvent(uuid.New()))
	require.NoError(t, client.Publish(context.Background(), messaging.SubjectEventsIngest, payload))

	waitFor(t, 10*time.Second, func() bool { return store.witnessCount() == 2 }, "batch persisted on rerun")
	assert.Equal(t, []int{1}, bo.seen())
	assert.Equal(t, 2, store.callCount())
}

func TestWorker_BudgetExhaustionDeadLetters(t *testing.T) {
	client := startBroker(t)
	store := newFakeStore()
	store.failAll = true

	const budget = 2
	bo := &fastBackoff{}
	runWorker(t, client, store, Config{Budget: budget, Backoff: bo.delay})

	payload := batchPayload(t, someEvent(uuid.New()))
	require.NoError(t, client.Publish(context.Background(), messaging.SubjectEventsIngest, payload))

	sink := dlq.New(client)
	var records []dlq.Record
	waitFor(t, 10*time.Second, func() bool {
		records, _ = sink.List(context.Background(), 10)
		return len(records) == 1
	}, "dead-letter record")

	rec := records[0]
	assert.Equal(t, dlq.ReasonRetriesExhausted, rec.Envelope.DLQReason)
	assert.Equal(t, budget, rec.Envelope.AttemptCount)
	assert.Equal(t, messaging.SubjectEventsIngest, rec.Envelope.OriginSubject)
	assert.Contains(t, rec.Envelope.LastError, "storage unavailable")
	assert.JSONEq(t, string(payload), string(rec.Payload))

	// Attempts 0..budget were tried, and nothing was republished past the
	// budget: the working subject never sees the message again.
	assert.Equal(t, budget+1, store.callCount())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, budget+1, store.callCount())
}

func TestWorker_MalformedPayloadDeadLettersImmediately(t *testing.T) {
	client := startBroker(t)
	store := newFakeStore()
	runWorker(t, client, store, Config{Budget: 5})

	require.NoError(t, client.Publish(context.Background(), messaging.SubjectEventsIngest, []byte("{not json")))

	sink := dlq.New(client)
	var records []dlq.Record
	waitFor(t, 5*time.Second, func() bool {
		records, _ = sink.List(context.Background(), 10)
		return len(records) == 1
	}, "dead-letter record")

	rec := records[0]
	assert.Equal(t, dlq.ReasonMalformed, rec.Envelope.DLQReason)
	// The retry path is skipped entirely: attempt count untouched.
	assert.Equal(t, 0, rec.Envelope.AttemptCount)
	assert.Equal(t, 0, store.callCount())
}

func TestWorker_DeadLetterRoundTrip(t *testing.T) {
	client := startBroker(t)
	store := newFakeStore()
	store.failAll = true

	bo := &fastBackoff{}
	runWorker(t, client, store, Config{Budget: 1, Backoff: bo.delay})

	e := someEvent(uuid.New())
	require.NoError(t, client.Publish(context.Background(), messaging.SubjectEventsIngest, batchPayload(t, e)))

	sink := dlq.New(client)
	waitFor(t, 10*time.Second, func() bool {
		records, _ := sink.List(context.Background(), 10)
		return len(records) == 1
	}, "dead-letter record")

	// Operator re-injects after the outage clears; the record is processed
	// like a fresh message with the attempt count reset.
	store.stopFailing()
	n, err := sink.Reinject(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	waitFor(t, 5*time.Second, func() bool { return store.witnessCount() == 1 }, "reinjected event persisted")
}

func TestWorker_CompetingConsumersShareLoad(t *testing.T) {
	client := startBroker(t)
	store := newFakeStore()

	// Two workers attached to the same durable: the broker delivers each
	// message to exactly one of them, and the gate keeps persistence
	// correct either way.
	runWorker(t, client, store, Config{Budget: 5})
	runWorker(t, client, store, Config{Budget: 5})

	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, client.Publish(context.Background(), messaging.SubjectEventsIngest, batchPayload(t, someEvent(uuid.New()))))
	}

	waitFor(t, 10*time.Second, func() bool { return store.witnessCount() == n }, "all events persisted")
	assert.Equal(t, n, store.witnessCount())
}
