package classifier

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cqhawk/cqevent/pkg/message"
)

// Sentinel errors matched with errors.Is against a *ValidationError.
var (
	ErrMissingField    = errors.New("missing field")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrTagMismatch     = errors.New("tag mismatch")
	ErrUnexpectedField = errors.New("unexpected field")

	// ErrUnknownShape is returned by ClassifyAs for names the registry does not know.
	ErrUnknownShape = errors.New("unknown shape")
)

// Kind classifies a validation failure.
type Kind int

const (
	KindMissingField Kind = iota + 1
	KindTypeMismatch
	KindTagMismatch
	KindUnexpectedField
)

func (k Kind) String() string {
	switch k {
	case KindMissingField:
		return "missing_field"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindTagMismatch:
		return "tag_mismatch"
	case KindUnexpectedField:
		return "unexpected_field"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	for _, candidate := range []Kind{KindMissingField, KindTypeMismatch, KindTagMismatch, KindUnexpectedField} {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown validation error kind %q", text)
}

// ValidationError describes why a payload does not fit a shape. Field is a
// dotted path for nested record fields, e.g. "anonymous.id".
type ValidationError struct {
	Kind     Kind   `json:"kind"`
	Field    string `json:"field"`
	Shape    string `json:"shape"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindMissingField:
		return fmt.Sprintf("%s: missing required field %q", e.Shape, e.Field)
	case KindTypeMismatch:
		return fmt.Sprintf("%s: field %q: expected %s, got %s", e.Shape, e.Field, e.Expected, e.Actual)
	case KindTagMismatch:
		return fmt.Sprintf("%s: field %q: expected %q, got %q", e.Shape, e.Field, e.Expected, e.Actual)
	case KindUnexpectedField:
		return fmt.Sprintf("%s: unexpected field %q", e.Shape, e.Field)
	default:
		return fmt.Sprintf("%s: field %q: validation failed", e.Shape, e.Field)
	}
}

// Unwrap maps the kind onto its sentinel error.
func (e *ValidationError) Unwrap() error {
	switch e.Kind {
	case KindMissingField:
		return ErrMissingField
	case KindTypeMismatch:
		return ErrTypeMismatch
	case KindTagMismatch:
		return ErrTagMismatch
	case KindUnexpectedField:
		return ErrUnexpectedField
	default:
		return nil
	}
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// typeName renders the JSON type of a decoded value.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case float32, float64, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case message.Message:
		return "message"
	default:
		return fmt.Sprintf("%T", v)
	}
}
