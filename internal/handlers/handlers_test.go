package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventloom-io/eventloom/internal/model"
	"github.com/eventloom-io/eventloom/internal/repository"
	"github.com/eventloom-io/eventloom/internal/service"
)

type stubPublisher struct {
	connected bool
	published int
}

func (p *stubPublisher) Publish(context.Context, string, []byte) error {
	p.published++
	return nil
}

func (p *stubPublisher) IsConnected() bool { return p.connected }

type stubStore struct {
	dau       []model.DAURow
	top       []model.TopEventRow
	cohort    *model.RetentionCohort
	err       error
	pingErr   error
	lastLimit int
}

func (s *stubStore) ApplyEvents(context.Context, []model.Event) (repository.ApplyResult, error) {
	return repository.ApplyResult{}, nil
}

func (s *stubStore) DailyActiveUsers(context.Context, time.Time, time.Time) ([]model.DAURow, error) {
	return s.dau, s.err
}

func (s *stubStore) TopEvents(_ context.Context, _, _ time.Time, limit int) ([]model.TopEventRow, error) {
	s.lastLimit = limit
	return s.top, s.err
}

func (s *stubStore) Retention(_ context.Context, _ time.Time, _ int, windowType string) (*model.RetentionCohort, error) {
	if windowType != "day" && windowType != "week" {
		return nil, repository.ErrUnknownWindowType
	}
	return s.cohort, s.err
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

func batchBody(t *testing.T, n int) *bytes.Reader {
	t.Helper()
	events := make([]model.Event, n)
	for i := range events {
		events[i] = model.Event{
			EventID:    uuid.New(),
			OccurredAt: time.Now().UTC(),
			UserID:     int64(i + 1),
			EventType:  "signup",
		}
	}
	data, err := json.Marshal(model.EventBatch{Events: events})
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func newEventsHandler(pub *stubPublisher, maxEvents int) *EventsHandler {
	svc := service.NewIngestService(pub, maxEvents, 500, nil)
	return NewEventsHandler(svc, 1<<20, nil)
}

func TestHandleIngest_Accepted(t *testing.T) {
	pub := &stubPublisher{connected: true}
	h := newEventsHandler(pub, 5000)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", batchBody(t, 3))
	rec := httptest.NewRecorder()
	h.HandleIngest(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp model.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, 3, resp.EventsCount)
	assert.Equal(t, 1, pub.published)
}

func TestHandleIngest_MalformedBody(t *testing.T) {
	h := newEventsHandler(&stubPublisher{connected: true}, 5000)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngest_ValidationFailure(t *testing.T) {
	h := newEventsHandler(&stubPublisher{connected: true}, 5000)

	body := []byte(`{"events":[{"event_id":"` + uuid.New().String() + `","occurred_at":"2026-01-02T03:04:05Z","user_id":0,"event_type":"x"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_id")
}

func TestHandleIngest_BatchTooLarge(t *testing.T) {
	h := newEventsHandler(&stubPublisher{connected: true}, 2)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", batchBody(t, 3))
	rec := httptest.NewRecorder()
	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleIngest_BrokerDown(t *testing.T) {
	h := newEventsHandler(&stubPublisher{connected: false}, 5000)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", batchBody(t, 1))
	rec := httptest.NewRecorder()
	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleIngest_MethodNotAllowed(t *testing.T) {
	h := newEventsHandler(&stubPublisher{connected: true}, 5000)

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	rec := httptest.NewRecorder()
	h.HandleIngest(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleDAU(t *testing.T) {
	store := &stubStore{dau: []model.DAURow{{Date: "2026-08-01", UniqueUsers: 42}}}
	h := NewStatsHandler(store, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats/dau?from=2026-08-01&to=2026-08-07", nil)
	rec := httptest.NewRecorder()
	h.HandleDAU(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unique_users":42`)
}

func TestHandleDAU_BadDate(t *testing.T) {
	h := NewStatsHandler(&stubStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats/dau?from=yesterday", nil)
	rec := httptest.NewRecorder()
	h.HandleDAU(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDAU_InvertedRange(t *testing.T) {
	h := NewStatsHandler(&stubStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats/dau?from=2026-08-07&to=2026-08-01", nil)
	rec := httptest.NewRecorder()
	h.HandleDAU(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTopEvents_LimitDefaultsAndBounds(t *testing.T) {
	store := &stubStore{top: []model.TopEventRow{{EventType: "login", Count: 9}}}
	h := NewStatsHandler(store, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats/top-events", nil)
	rec := httptest.NewRecorder()
	h.HandleTopEvents(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultTopLimit, store.lastLimit)

	req = httptest.NewRequest(http.MethodGet, "/v1/stats/top-events?limit=500", nil)
	rec = httptest.NewRecorder()
	h.HandleTopEvents(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRetention(t *testing.T) {
	store := &stubStore{cohort: &model.RetentionCohort{
		CohortDate:       "2026-08-01",
		UsersCount:       100,
		RetentionWindows: []float64{100, 40.5, 22},
	}}
	h := NewStatsHandler(store, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats/retention?start_date=2026-08-01&windows=3&window_type=week", nil)
	rec := httptest.NewRecorder()
	h.HandleRetention(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"users_count":100`)
}

func TestHandleRetention_BadWindowType(t *testing.T) {
	h := NewStatsHandler(&stubStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats/retention?start_date=2026-08-01&window_type=month", nil)
	rec := httptest.NewRecorder()
	h.HandleRetention(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRetention_MissingStartDate(t *testing.T) {
	h := NewStatsHandler(&stubStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats/retention", nil)
	rec := httptest.NewRecorder()
	h.HandleRetention(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReadyz(t *testing.T) {
	t.Run("all up", func(t *testing.T) {
		h := NewHealthHandler(&stubStore{}, &stubPublisher{connected: true})
		rec := httptest.NewRecorder()
		h.HandleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("database down", func(t *testing.T) {
		h := NewHealthHandler(&stubStore{pingErr: fmt.Errorf("connection refused")}, &stubPublisher{connected: true})
		rec := httptest.NewRecorder()
		h.HandleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("broker down", func(t *testing.T) {
		h := NewHealthHandler(&stubStore{}, &stubPublisher{connected: false})
		rec := httptest.NewRecorder()
		h.HandleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
