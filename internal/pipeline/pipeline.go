// Package pipeline decodes and classifies raw envelopes.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cqhawk/cqevent/internal/logging"
	"github.com/cqhawk/cqevent/internal/metrics"
	"github.com/cqhawk/cqevent/internal/model"
	"github.com/cqhawk/cqevent/pkg/classifier"
	"github.com/cqhawk/cqevent/pkg/event"
)

// ErrDecode marks payloads that are not a JSON object.
var ErrDecode = errors.New("decode payload")

// Failure reasons recorded in the dead letter queue and metrics.
const (
	ReasonDecode   = "decode"
	ReasonInternal = "internal"
)

// Pipeline orchestrates payload decoding and classification.
type Pipeline struct {
	classifier *classifier.Classifier
	logger     *logging.Logger
}

// New creates a pipeline instance. A nil logger falls back to logging.Default.
func New(c *classifier.Classifier, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{classifier: c, logger: logger}
}

// Process decodes the envelope payload and classifies it.
func (p *Pipeline) Process(ctx context.Context, envelope *model.RawEventEnvelope) (*event.Event, error) {
	if p == nil || p.classifier == nil {
		return nil, fmt.Errorf("pipeline not configured")
	}
	if envelope == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrDecode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.ClassificationDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.EventsReceived.WithLabelValues(envelope.Source).Inc()
	metrics.EventBytesTotal.Add(float64(len(envelope.Payload)))

	raw, err := event.ParseRaw(envelope.Payload)
	if err != nil {
		metrics.ClassificationErrors.WithLabelValues(ReasonDecode).Inc()
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	ev, err := p.classifier.Classify(raw)
	if err != nil {
		metrics.ClassificationErrors.WithLabelValues(Reason(err)).Inc()
		return nil, fmt.Errorf("classify: %w", err)
	}

	metrics.EventsClassified.WithLabelValues(ev.Shape().Name, ev.Match().String()).Inc()
	p.logger.DebugContext(logging.ContextWithEnvelopeID(ctx, envelope.ID), "event classified",
		logging.EventName(ev.Name()),
		logging.Shape(ev.Shape().Name),
		logging.Match(ev.Match().String()))
	return ev, nil
}

// Reason maps a processing error to a short failure reason.
func Reason(err error) string {
	if verr, ok := classifier.AsValidationError(err); ok {
		return verr.Kind.String()
	}
	if errors.Is(err, ErrDecode) {
		return ReasonDecode
	}
	return ReasonInternal
}

// Result is the wire form of a classified event.
type Result struct {
	EnvelopeID string       `json:"envelope_id,omitempty"`
	Name       string       `json:"name"`
	Shape      string       `json:"shape"`
	Match      string       `json:"match"`
	Event      *event.Event `json:"event"`
}

// NewResult describes ev for transport.
func NewResult(envelopeID string, ev *event.Event) *Result {
	return &Result{
		EnvelopeID: envelopeID,
		Name:       ev.Name(),
		Shape:      ev.Shape().Name,
		Match:      ev.Match().String(),
		Event:      ev,
	}
}

// MarshalResult serializes a classified event for transport.
func MarshalResult(envelopeID string, ev *event.Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}
	return json.Marshal(NewResult(envelopeID, ev))
}
