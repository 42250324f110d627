// Package classifier turns a raw CQHTTP payload into a typed event.
//
// Classify reads the three discriminators, resolves the shape through the
// registry and checks every field the shape declares. Failures come back as
// *ValidationError values; the classifier never panics on malformed input.
package classifier

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/cqhawk/cqevent/pkg/event"
	"github.com/cqhawk/cqevent/pkg/message"
	"github.com/cqhawk/cqevent/pkg/shape"
)

// Classifier validates raw payloads against a shape registry. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct {
	registry *shape.Registry
	logger   *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a classifier over registry.
func New(registry *shape.Registry, opts ...Option) *Classifier {
	c := &Classifier{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry the classifier resolves against.
func (c *Classifier) Registry() *shape.Registry {
	return c.registry
}

// Classify resolves and validates raw. The returned event shares raw.
func (c *Classifier) Classify(raw *event.RawEvent) (*event.Event, error) {
	if raw == nil {
		raw = event.NewRawEvent()
	}
	genericName := c.registry.Generic().Name

	v, ok := raw.Get(event.KeyPostType)
	if !ok {
		return nil, &ValidationError{Kind: KindMissingField, Field: event.KeyPostType, Shape: genericName}
	}
	postType, ok := v.(string)
	if !ok {
		return nil, &ValidationError{
			Kind:     KindTypeMismatch,
			Field:    event.KeyPostType,
			Shape:    genericName,
			Expected: shape.TypeString.String(),
			Actual:   typeName(v),
		}
	}

	detailType := stringOrEmpty(raw, event.DetailKey(postType))
	subType := stringOrEmpty(raw, event.KeySubType)

	res := c.registry.Resolve(postType, detailType, subType)

	if err := c.validate(raw, res.Shape); err != nil {
		return nil, err
	}

	if res.Match != shape.MatchExact {
		c.logger.Debug("event classified by fallback",
			"post_type", postType,
			"detail_type", detailType,
			"sub_type", subType,
			"shape", res.Shape.Name,
			"match", res.Match.String())
	}
	return event.New(raw, res), nil
}

// ClassifyAs validates raw against the named shape instead of resolving one.
// Literal tags still have to match, so a mismatching payload fails with
// ErrTagMismatch.
func (c *Classifier) ClassifyAs(raw *event.RawEvent, shapeName string) (*event.Event, error) {
	s, ok := c.registry.Lookup(shapeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownShape, shapeName)
	}
	if raw == nil {
		raw = event.NewRawEvent()
	}
	if err := c.validate(raw, s); err != nil {
		return nil, err
	}
	return event.New(raw, shape.Resolution{Shape: s, Match: shape.MatchExact}), nil
}

// Validate checks raw against s without building an event.
func (c *Classifier) Validate(raw *event.RawEvent, s *shape.Shape) error {
	return c.validate(raw, s)
}

func (c *Classifier) validate(raw *event.RawEvent, s *shape.Shape) error {
	// The message value is normalised before any field is read.
	if v, ok := raw.Get(event.KeyMessage); ok {
		raw.Set(event.KeyMessage, v)
	}

	for _, f := range s.Fields {
		v, present := raw.Get(f.Name)
		if err := c.checkField(s.Name, "", f, v, present); err != nil {
			return err
		}
	}
	if !s.AllowExtra {
		for _, key := range raw.Keys() {
			if _, declared := s.Field(key); !declared {
				return &ValidationError{Kind: KindUnexpectedField, Field: key, Shape: s.Name}
			}
		}
	}
	return nil
}

func (c *Classifier) checkField(shapeName, prefix string, f shape.Field, v any, present bool) error {
	path := prefix + f.Name
	mismatch := func(expected string) error {
		return &ValidationError{
			Kind:     KindTypeMismatch,
			Field:    path,
			Shape:    shapeName,
			Expected: expected,
			Actual:   typeName(v),
		}
	}

	if !present {
		if f.Optional {
			return nil
		}
		return &ValidationError{Kind: KindMissingField, Field: path, Shape: shapeName}
	}
	if v == nil {
		if f.Nullable || f.Optional {
			return nil
		}
		return mismatch(f.Type.String())
	}

	switch f.Type {
	case shape.TypeString:
		if _, ok := v.(string); !ok {
			return mismatch("string")
		}
	case shape.TypeInt:
		if !isInt(v) {
			return mismatch("int")
		}
	case shape.TypeBool:
		if _, ok := v.(bool); !ok {
			return mismatch("bool")
		}
	case shape.TypeTag:
		s, ok := v.(string)
		if !ok {
			return mismatch("string")
		}
		if s != f.Tag {
			return &ValidationError{
				Kind:     KindTagMismatch,
				Field:    path,
				Shape:    shapeName,
				Expected: f.Tag,
				Actual:   s,
			}
		}
	case shape.TypeMessage:
		if _, ok := v.(message.Message); !ok {
			return mismatch("message")
		}
	case shape.TypeRecord:
		obj, ok := v.(map[string]any)
		if !ok {
			return mismatch("object")
		}
		return c.checkRecord(shapeName, path, f.Record, obj)
	}
	return nil
}

func (c *Classifier) checkRecord(shapeName, path, recordName string, obj map[string]any) error {
	rec, ok := c.registry.Record(recordName)
	if !ok {
		return nil
	}
	prefix := path + "."
	for _, f := range rec.Fields {
		v, present := obj[f.Name]
		if err := c.checkField(shapeName, prefix, f, v, present); err != nil {
			return err
		}
	}
	if !rec.AllowExtra {
		for key := range obj {
			if !recordDeclares(rec, key) {
				return &ValidationError{Kind: KindUnexpectedField, Field: prefix + key, Shape: shapeName}
			}
		}
	}
	return nil
}

func recordDeclares(rec *shape.Record, key string) bool {
	for _, f := range rec.Fields {
		if f.Name == key {
			return true
		}
	}
	return false
}

// isInt accepts integral JSON numbers and numeric strings.
func isInt(v any) bool {
	switch n := v.(type) {
	case bool:
		return false
	case float64:
		return integral(n)
	case float32:
		return integral(float64(n))
	case string:
		if strings.TrimSpace(n) == "" {
			return false
		}
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return true
		}
		f, err := n.Float64()
		return err == nil && integral(f)
	}
	_, err := cast.ToInt64E(v)
	return err == nil
}

func integral(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
}

func stringOrEmpty(raw *event.RawEvent, key string) string {
	v, ok := raw.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
