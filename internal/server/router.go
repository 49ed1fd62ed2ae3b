// Package server wires handlers and middleware into the HTTP router.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventloom-io/eventloom/internal/handlers"
	"github.com/eventloom-io/eventloom/internal/middleware"
	"github.com/eventloom-io/eventloom/internal/ratelimit"
)

// Deps carries everything the router needs.
type Deps struct {
	Events  *handlers.EventsHandler
	Stats   *handlers.StatsHandler
	Health  *handlers.HealthHandler
	APIKeys []string
	Limiter ratelimit.Limiter
}

// NewRouter constructs the API ServeMux. The ingest and stats routes sit
// behind API-key auth and rate limiting; probes and metrics do not.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	auth := middleware.APIKey(d.APIKeys)
	protected := func(h http.HandlerFunc) http.Handler {
		var wrapped http.Handler = h
		if d.Limiter != nil {
			wrapped = middleware.RateLimit(d.Limiter)(wrapped)
		}
		return auth(wrapped)
	}

	mux.Handle("/v1/events", protected(d.Events.HandleIngest))
	mux.Handle("/v1/stats/dau", protected(d.Stats.HandleDAU))
	mux.Handle("/v1/stats/top-events", protected(d.Stats.HandleTopEvents))
	mux.Handle("/v1/stats/retention", protected(d.Stats.HandleRetention))

	mux.HandleFunc("/healthz", d.Health.HandleHealthz)
	mux.HandleFunc("/readyz", d.Health.HandleReadyz)

	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
