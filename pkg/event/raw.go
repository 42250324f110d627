package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/cqhawk/cqevent/pkg/message"
)

// KeyMessage is the payload key that always holds a message.Message once set.
const KeyMessage = "message"

// RawEvent is the insertion-ordered key/value container for one inbound
// payload. It performs no validation. The only conversion it applies is that
// a convertible value stored under "message" becomes a message.Message.
//
// A RawEvent is not safe for concurrent mutation; a single instance is
// shared by the facades built over it and every write is visible to all.
type RawEvent struct {
	fields *orderedmap.OrderedMap[string, any]
}

// NewRawEvent returns an empty container.
func NewRawEvent() *RawEvent {
	return &RawEvent{fields: orderedmap.New[string, any]()}
}

// ParseRaw decodes a JSON object, keeping the top-level key order.
func ParseRaw(data []byte) (*RawEvent, error) {
	r := NewRawEvent()
	if err := r.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return r, nil
}

// RawFromMap builds a container from a plain map. Go maps carry no order, so
// keys are inserted sorted to keep the result deterministic.
func RawFromMap(m map[string]any) *RawEvent {
	r := NewRawEvent()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.Set(k, m[k])
	}
	return r
}

// Get returns the value stored under key.
func (r *RawEvent) Get(key string) (any, bool) {
	return r.fields.Get(key)
}

// Set stores value under key. Existing keys keep their position.
func (r *RawEvent) Set(key string, value any) {
	if key == KeyMessage {
		if msg, err := message.Parse(value); err == nil {
			value = msg
		}
	}
	r.fields.Set(key, value)
}

// Delete removes key and reports whether it was present.
func (r *RawEvent) Delete(key string) bool {
	_, ok := r.fields.Delete(key)
	return ok
}

// Contains reports whether key is present, including explicit nulls.
func (r *RawEvent) Contains(key string) bool {
	_, ok := r.fields.Get(key)
	return ok
}

// Keys returns the keys in insertion order.
func (r *RawEvent) Keys() []string {
	keys := make([]string, 0, r.fields.Len())
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Len returns the number of keys.
func (r *RawEvent) Len() int {
	return r.fields.Len()
}

// ToMap returns a shallow copy as a plain map.
func (r *RawEvent) ToMap() map[string]any {
	out := make(map[string]any, r.fields.Len())
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

// Clone returns a shallow copy that no longer shares mutations with r.
// The message value is copied so segment edits do not leak across.
func (r *RawEvent) Clone() *RawEvent {
	out := NewRawEvent()
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, pair.Value)
	}
	return out
}

// MarshalJSON emits the keys in insertion order, unknown keys included.
func (r *RawEvent) MarshalJSON() ([]byte, error) {
	return r.fields.MarshalJSON()
}

// ErrNotObject is returned when a payload is valid JSON but not an object.
var ErrNotObject = errors.New("payload is not a JSON object")

// UnmarshalJSON replaces the content of r with a decoded JSON object.
// Numbers are kept as json.Number so ids above 2^53 survive unchanged.
func (r *RawEvent) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	fields := orderedmap.New[string, any]()
	if err := decodeObject(dec, fields); err != nil {
		return fmt.Errorf("decode raw event: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode raw event: trailing data after object")
	}

	r.fields = fields
	if v, ok := fields.Get(KeyMessage); ok {
		r.Set(KeyMessage, v)
	}
	return nil
}

func decodeObject(dec *json.Decoder, fields *orderedmap.OrderedMap[string, any]) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrNotObject
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		fields.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

var (
	_ json.Marshaler   = (*RawEvent)(nil)
	_ json.Unmarshaler = (*RawEvent)(nil)
)
