// Package server wires the HTTP routes of cqevent.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cqhawk/cqevent/internal/handlers"
)

// NewRouter registers the API, health and metrics routes.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/events", h.Event)
	mux.HandleFunc("/api/v1/catalog", h.Catalog)
	mux.HandleFunc("/api/v1/dlq", h.DLQ)

	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
