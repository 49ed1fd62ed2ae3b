package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports backing-store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerStatus reports broker connectivity.
type BrokerStatus interface {
	IsConnected() bool
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store  Pinger
	broker BrokerStatus
}

func NewHealthHandler(store Pinger, broker BrokerStatus) *HealthHandler {
	return &HealthHandler{store: store, broker: broker}
}

// HandleHealthz is a liveness probe; it answers as long as the process
// can serve HTTP.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HandleReadyz verifies the database and broker are reachable.
func (h *HealthHandler) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "broker": "ok"}
	ready := true

	if err := h.store.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		ready = false
	}
	if !h.broker.IsConnected() {
		checks["broker"] = "disconnected"
		ready = false
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}

	writeJSON(w, status, map[string]any{
		"status": state,
		"checks": checks,
	})
}
