// Package dlq records payloads that could not be classified so they can be
// inspected and replayed.
package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/cqhawk/cqevent/internal/model"
	"github.com/cqhawk/cqevent/pkg/classifier"
)

// ErrDisabled is returned by read operations on a nil queue.
var ErrDisabled = errors.New("dlq not enabled")

// FailedEvent captures a classification failure for replay.
type FailedEvent struct {
	Timestamp   time.Time               `json:"timestamp"`
	Envelope    *model.RawEventEnvelope `json:"envelope"`
	Error       string                  `json:"error"`
	Reason      string                  `json:"reason"`
	Field       string                  `json:"field,omitempty"`
	Shape       string                  `json:"shape,omitempty"`
	Attempts    int                     `json:"attempts"`
	LastAttempt time.Time               `json:"last_attempt"`
}

// NewFailedEvent builds a record for envelope. Validation errors contribute
// the offending field and shape.
func NewFailedEvent(envelope *model.RawEventEnvelope, err error, reason string) FailedEvent {
	now := time.Now().UTC()
	failed := FailedEvent{
		Timestamp:   now,
		Envelope:    envelope,
		Reason:      reason,
		Attempts:    1,
		LastAttempt: now,
	}
	if err != nil {
		failed.Error = err.Error()
	}
	if verr, ok := classifier.AsValidationError(err); ok {
		failed.Field = verr.Field
		failed.Shape = verr.Shape
	}
	return failed
}

// Writer accepts failed payloads. Implementations treat a nil receiver as a
// disabled queue and drop writes.
type Writer interface {
	Write(ctx context.Context, envelope *model.RawEventEnvelope, err error, reason string) error
}

// Queue is a Writer that can also be inspected and emptied.
type Queue interface {
	Writer
	List(ctx context.Context, limit int) ([]FailedEvent, error)
	Purge(ctx context.Context) error
	Stats(ctx context.Context) map[string]any
}
