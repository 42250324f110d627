// Package model holds the transport-level records passed between the
// harness components.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RawEventEnvelope carries one inbound CQHTTP payload and where it came from.
type RawEventEnvelope struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	Subject    string            `json:"subject,omitempty"`
	Payload    []byte            `json:"payload"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// NewEnvelope wraps payload with a fresh id and the current time.
func NewEnvelope(source string, payload []byte) *RawEventEnvelope {
	return &RawEventEnvelope{
		ID:         uuid.NewString(),
		Source:     source,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
}

// Attribute returns the named attribute or "".
func (e *RawEventEnvelope) Attribute(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
