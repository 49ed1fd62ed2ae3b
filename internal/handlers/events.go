package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/eventloom-io/eventloom/internal/logging"
	"github.com/eventloom-io/eventloom/internal/metrics"
	"github.com/eventloom-io/eventloom/internal/model"
	"github.com/eventloom-io/eventloom/internal/service"
	"github.com/eventloom-io/eventloom/internal/validator"
)

// EventsHandler accepts event batches for asynchronous processing.
type EventsHandler struct {
	ingest       *service.IngestService
	maxBodyBytes int64
	log          *logging.Logger
}

func NewEventsHandler(ingest *service.IngestService, maxBodyBytes int64, log *logging.Logger) *EventsHandler {
	if log == nil {
		log = logging.Default()
	}
	return &EventsHandler{ingest: ingest, maxBodyBytes: maxBodyBytes, log: log}
}

// HandleIngest is POST /v1/events. A 202 means the batch was durably
// queued, not processed.
func (h *EventsHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	defer r.Body.Close()

	var batch model.EventBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.BatchesRejected.WithLabelValues("body_too_large").Inc()
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		metrics.BatchesRejected.WithLabelValues("malformed").Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	count, err := h.ingest.Accept(r.Context(), batch)
	if err != nil {
		h.respondIngestError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, model.IngestResponse{
		Status:      "accepted",
		Message:     fmt.Sprintf("%d events queued for processing", count),
		EventsCount: count,
	})
}

func (h *EventsHandler) respondIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		tooLarge   *validator.BatchTooLargeError
		publishErr *service.PublishError
	)
	switch {
	case errors.As(err, &tooLarge):
		metrics.BatchesRejected.WithLabelValues("batch_too_large").Inc()
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrBrokerUnavailable):
		h.log.ErrorContext(r.Context(), "ingest rejected, broker unavailable", logging.Error(err))
		writeError(w, http.StatusServiceUnavailable, "event broker unavailable")
	case errors.As(err, &publishErr):
		h.log.ErrorContext(r.Context(), "ingest publish failed", logging.Error(err))
		writeError(w, http.StatusBadGateway, "failed to queue events")
	default:
		metrics.BatchesRejected.WithLabelValues("validation").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
