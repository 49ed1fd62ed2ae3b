package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/eventloom-io/eventloom/internal/logging"
	"github.com/eventloom-io/eventloom/internal/repository"
)

const (
	dateLayout      = "2006-01-02"
	defaultTopLimit = 10
	maxWindows      = 12
)

// StatsHandler serves the read-only analytics endpoints.
type StatsHandler struct {
	store repository.EventStore
	log   *logging.Logger
}

func NewStatsHandler(store repository.EventStore, log *logging.Logger) *StatsHandler {
	if log == nil {
		log = logging.Default()
	}
	return &StatsHandler{store: store, log: log}
}

// HandleDAU is GET /v1/stats/dau?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *StatsHandler) HandleDAU(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}

	rows, err := h.store.DailyActiveUsers(r.Context(), from, to)
	if err != nil {
		h.log.ErrorContext(r.Context(), "dau query failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

// HandleTopEvents is GET /v1/stats/top-events?from=&to=&limit=.
func (h *StatsHandler) HandleTopEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}

	limit := defaultTopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	rows, err := h.store.TopEvents(r.Context(), from, to, limit)
	if err != nil {
		h.log.ErrorContext(r.Context(), "top events query failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

// HandleRetention is GET /v1/stats/retention?start_date=&windows=&window_type=.
func (h *StatsHandler) HandleRetention(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	startDate, err := time.Parse(dateLayout, r.URL.Query().Get("start_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}

	windows := 4
	if raw := r.URL.Query().Get("windows"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxWindows {
			writeError(w, http.StatusBadRequest, "windows must be between 1 and 12")
			return
		}
		windows = n
	}

	windowType := r.URL.Query().Get("window_type")
	if windowType == "" {
		windowType = "day"
	}

	cohort, err := h.store.Retention(r.Context(), startDate, windows, windowType)
	if err != nil {
		if errors.Is(err, repository.ErrUnknownWindowType) {
			writeError(w, http.StatusBadRequest, "window_type must be day or week")
			return
		}
		h.log.ErrorContext(r.Context(), "retention query failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, cohort)
}

// dateRange parses the from/to query params. Missing values default to
// the last 7 days ending today.
func (h *StatsHandler) dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	from := now.AddDate(0, 0, -6)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not precede from")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
