// Package handlers serves the HTTP side of cqevent: a OneBot HTTP POST
// receiver, health, the shape catalog and dead letter inspection.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cqhawk/cqevent/internal/dlq"
	"github.com/cqhawk/cqevent/internal/messaging"
	"github.com/cqhawk/cqevent/internal/model"
	"github.com/cqhawk/cqevent/internal/pipeline"
	"github.com/cqhawk/cqevent/internal/service"
	"github.com/cqhawk/cqevent/pkg/classifier"
	"github.com/cqhawk/cqevent/pkg/shape"
)

// maxPayloadBytes bounds request bodies on the event endpoint.
const maxPayloadBytes = 1 << 20

// Handler holds the collaborators behind the HTTP endpoints.
type Handler struct {
	processor *service.Processor
	registry  *shape.Registry
	queue     dlq.Queue
	broker    messaging.Client
}

// New constructs a Handler. queue and broker may be nil.
func New(p *service.Processor, registry *shape.Registry, queue dlq.Queue, broker messaging.Client) *Handler {
	return &Handler{processor: p, registry: registry, queue: queue, broker: broker}
}

// ClassifyResponse reports the outcome of POST /api/v1/events.
type ClassifyResponse struct {
	*pipeline.Result
	Duplicate bool `json:"duplicate,omitempty"`
}

// Event handles POST /api/v1/events with a raw CQHTTP payload as body, the way
// a bot in HTTP POST mode reports events.
func (h *Handler) Event(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(payload) > maxPayloadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "payload exceeds 1 MiB")
		return
	}

	envelope := model.NewEnvelope("http", payload)
	if selfID := r.Header.Get("X-Self-ID"); selfID != "" {
		envelope.Attributes = map[string]string{"self_id": selfID}
	}

	ev, err := h.processor.Process(r.Context(), envelope)
	switch {
	case errors.Is(err, service.ErrDuplicate):
		writeJSON(w, http.StatusOK, ClassifyResponse{Result: pipeline.NewResult(envelope.ID, ev), Duplicate: true})
		return
	case err != nil && ev != nil:
		writeError(w, http.StatusBadGateway, "publish_failed", err.Error())
		return
	case err != nil:
		writeClassifyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClassifyResponse{Result: pipeline.NewResult(envelope.ID, ev)})
}

func writeClassifyError(w http.ResponseWriter, err error) {
	if verr, ok := classifier.AsValidationError(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, struct {
			Code       string                      `json:"code"`
			Message    string                      `json:"message"`
			Validation *classifier.ValidationError `json:"validation"`
		}{Code: verr.Kind.String(), Message: verr.Error(), Validation: verr})
		return
	}
	if errors.Is(err, pipeline.ErrDecode) {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "classification_failed", err.Error())
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Processor service.Stats           `json:"processor"`
	Broker    *messaging.HealthStatus `json:"broker,omitempty"`
	DLQ       map[string]any          `json:"dlq,omitempty"`
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	resp := HealthResponse{Status: "ok", Processor: h.processor.Health()}
	status := http.StatusOK
	if h.broker != nil {
		broker := messaging.CheckClientHealth(r.Context(), h.broker)
		resp.Broker = &broker
		if !broker.Connected {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if h.queue != nil {
		resp.DLQ = h.queue.Stats(r.Context())
	}
	writeJSON(w, status, resp)
}

// CatalogResponse is the body of GET /api/v1/catalog.
type CatalogResponse struct {
	Version string          `json:"version"`
	Shapes  []*shape.Shape  `json:"shapes"`
	Records []*shape.Record `json:"records"`
}

// Catalog handles GET /api/v1/catalog. ?post_type= narrows the shape list.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	shapes := h.registry.Shapes()
	if postType := r.URL.Query().Get("post_type"); postType != "" {
		filtered := make([]*shape.Shape, 0, len(shapes))
		for _, s := range shapes {
			if s.PostType == postType {
				filtered = append(filtered, s)
			}
		}
		shapes = filtered
	}
	writeJSON(w, http.StatusOK, CatalogResponse{
		Version: h.registry.Version(),
		Shapes:  shapes,
		Records: h.registry.Records(),
	})
}

// DLQ handles GET (list, ?limit=) and DELETE (purge) on /api/v1/dlq.
func (h *Handler) DLQ(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, http.StatusNotFound, "dlq_disabled", dlq.ErrDisabled.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			limit = n
		}
		events, err := h.queue.List(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "dlq_list_failed", err.Error())
			return
		}
		if events == nil {
			events = []dlq.FailedEvent{}
		}
		writeJSON(w, http.StatusOK, struct {
			Events []dlq.FailedEvent `json:"events"`
		}{events})
	case http.MethodDelete:
		if err := h.queue.Purge(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "dlq_purge_failed", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

// Ready handles GET /readyz: ready once the broker, if any, is connected.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.broker != nil && !h.broker.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "not connected to message broker")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	type errorBody struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method is not allowed")
}
