// Package message models the segmented "message" field of CQHTTP events.
//
// A message is an ordered list of tagged segments such as
//
//	[{"type":"text","data":{"text":"hi "}},{"type":"at","data":{"qq":"10001"}}]
//
// Senders may also deliver the field as a bare string, which is treated as a
// single text segment. Rendering segments back into CQ codes is left to the
// bot framework.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SegmentText is the segment type carrying plain text in data.text.
const SegmentText = "text"

// ErrUnsupported is returned by Parse for values that cannot form a message.
var ErrUnsupported = errors.New("unsupported message value")

// Segment is one tagged unit of a composed message.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Text builds a plain-text segment.
func Text(s string) Segment {
	return Segment{Type: SegmentText, Data: map[string]any{"text": s}}
}

// IsText reports whether the segment carries plain text.
func (s Segment) IsText() bool {
	return s.Type == SegmentText
}

// Message is an ordered list of segments. Adjacent text segments are not merged.
type Message []Segment

// New returns a message holding a single text segment.
func New(s string) Message {
	return Message{Text(s)}
}

// Parse builds a Message from a decoded JSON value. Strings become a single
// text segment, lists of {type,data} objects are copied in order, a single
// segment object becomes a one-element message and nil yields an empty message.
func Parse(v any) (Message, error) {
	switch val := v.(type) {
	case nil:
		return Message{}, nil
	case Message:
		return val.clone(), nil
	case []Segment:
		return Message(val).clone(), nil
	case Segment:
		return Message{val.clone()}, nil
	case string:
		return New(val), nil
	case map[string]any:
		seg, err := segmentFromMap(val)
		if err != nil {
			return nil, err
		}
		return Message{seg}, nil
	case []any:
		msg := make(Message, 0, len(val))
		for i, item := range val {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("segment %d: %w: %T", i, ErrUnsupported, item)
			}
			seg, err := segmentFromMap(obj)
			if err != nil {
				return nil, fmt.Errorf("segment %d: %w", i, err)
			}
			msg = append(msg, seg)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
}

func segmentFromMap(obj map[string]any) (Segment, error) {
	kind, ok := obj["type"].(string)
	if !ok || kind == "" {
		return Segment{}, fmt.Errorf("%w: segment without type", ErrUnsupported)
	}

	seg := Segment{Type: kind, Data: map[string]any{}}
	switch data := obj["data"].(type) {
	case nil:
	case map[string]any:
		for k, v := range data {
			seg.Data[k] = v
		}
	case string:
		// Some implementations send text segments as {"type":"text","data":"..."}.
		if kind != SegmentText {
			return Segment{}, fmt.Errorf("%w: %s segment with string data", ErrUnsupported, kind)
		}
		seg.Data["text"] = data
	default:
		return Segment{}, fmt.Errorf("%w: segment data %T", ErrUnsupported, data)
	}
	return seg, nil
}

// ExtractPlainText concatenates the text of every text segment in order.
// Segments of other types contribute nothing.
func (m Message) ExtractPlainText() string {
	var b strings.Builder
	for _, seg := range m {
		if !seg.IsText() {
			continue
		}
		if text, ok := seg.Data["text"].(string); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

// Append adds segments to the end of the message.
func (m Message) Append(segs ...Segment) Message {
	return append(m, segs...)
}

// MarshalJSON always emits the array form.
func (m Message) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Segment(m))
}

// UnmarshalJSON accepts the array form, a single segment object or a bare string.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Message) clone() Message {
	out := make(Message, len(m))
	for i, seg := range m {
		out[i] = seg.clone()
	}
	return out
}

func (s Segment) clone() Segment {
	data := make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		data[k] = v
	}
	return Segment{Type: s.Type, Data: data}
}
