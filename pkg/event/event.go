// Package event holds the raw container for inbound CQHTTP payloads and the
// typed facade handlers read them through.
//
// An Event is a thin view over a shared *RawEvent plus the shape the
// classifier resolved for it. Every accessor reads the container on each
// call, so writes through any facade or directly on the container are seen
// everywhere. Setters do not reclassify the event.
package event

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/mo"
	"github.com/spf13/cast"

	"github.com/cqhawk/cqevent/pkg/message"
	"github.com/cqhawk/cqevent/pkg/shape"
)

// Payload keys read by the facade.
const (
	KeyPostType   = "post_type"
	KeySubType    = "sub_type"
	KeySelfID     = "self_id"
	KeyTime       = "time"
	KeyMessageID  = "message_id"
	KeyFlag       = "flag"
	KeyUserID     = "user_id"
	KeyGroupID    = "group_id"
	KeyToMe       = "to_me"
	KeySender     = "sender"
	KeyReply      = "reply"
	KeyRawMessage = "raw_message"
)

// ErrNoType is returned when the detail type is set on an event without post_type.
var ErrNoType = errors.New("event has no post_type")

// Event is the typed accessor facade over a classified payload.
type Event struct {
	raw *RawEvent
	res shape.Resolution
}

// New wraps raw with the resolution that classified it.
func New(raw *RawEvent, res shape.Resolution) *Event {
	return &Event{raw: raw, res: res}
}

// DetailKey returns the payload key carrying the detail type of postType.
func DetailKey(postType string) string {
	return postType + "_type"
}

// Raw returns the shared container.
func (e *Event) Raw() *RawEvent { return e.raw }

// Shape returns the shape the event was classified as.
func (e *Event) Shape() *shape.Shape { return e.res.Shape }

// Match reports how specific the classification was.
func (e *Event) Match() shape.Match { return e.res.Match }

// Exact reports whether every supplied discriminator matched the catalog.
func (e *Event) Exact() bool { return e.res.Match == shape.MatchExact }

// Type returns post_type.
func (e *Event) Type() string {
	s, _ := e.str(KeyPostType)
	return s
}

// DetailType returns the value stored at "<post_type>_type".
func (e *Event) DetailType() string {
	t := e.Type()
	if t == "" {
		return ""
	}
	s, _ := e.str(DetailKey(t))
	return s
}

// SubType returns sub_type when present.
func (e *Event) SubType() mo.Option[string] {
	return e.optStr(KeySubType)
}

// Name joins the present discriminators, e.g. "message.group.normal".
func (e *Event) Name() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Type(), e.DetailType(), e.SubType().OrEmpty()} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// ID returns message_id when non-zero, otherwise a non-empty flag.
func (e *Event) ID() mo.Option[string] {
	if id, ok := e.IntField(KeyMessageID).Get(); ok && id != 0 {
		return mo.Some(strconv.FormatInt(id, 10))
	}
	if flag, ok := e.optStr(KeyFlag).Get(); ok && flag != "" {
		return mo.Some(flag)
	}
	return mo.None[string]()
}

// SelfID returns the bot account id as a decimal string.
func (e *Event) SelfID() string {
	v, ok := e.raw.Get(KeySelfID)
	if !ok || v == nil {
		return ""
	}
	if n, err := cast.ToInt64E(v); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return cast.ToString(v)
}

// Time returns the event timestamp in unix seconds.
func (e *Event) Time() int64 {
	v, _ := e.raw.Get(KeyTime)
	return cast.ToInt64(v)
}

// UserID returns user_id when present.
func (e *Event) UserID() mo.Option[int64] { return e.IntField(KeyUserID) }

// GroupID returns group_id when present.
func (e *Event) GroupID() mo.Option[int64] { return e.IntField(KeyGroupID) }

// IntField reads an integer field. Numeric strings are accepted; bools are not.
func (e *Event) IntField(key string) mo.Option[int64] {
	v, ok := e.raw.Get(key)
	if !ok || v == nil {
		return mo.None[int64]()
	}
	if _, isBool := v.(bool); isBool {
		return mo.None[int64]()
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return mo.None[int64]()
	}
	return mo.Some(n)
}

// ToMe reports whether the event addresses the bot, when known.
func (e *Event) ToMe() mo.Option[bool] {
	v, ok := e.raw.Get(KeyToMe)
	if !ok {
		return mo.None[bool]()
	}
	b, ok := v.(bool)
	if !ok {
		return mo.None[bool]()
	}
	return mo.Some(b)
}

// Message returns the segmented message when present.
func (e *Event) Message() mo.Option[message.Message] {
	v, ok := e.raw.Get(KeyMessage)
	if !ok {
		return mo.None[message.Message]()
	}
	msg, ok := v.(message.Message)
	if !ok {
		return mo.None[message.Message]()
	}
	return mo.Some(msg)
}

// PlainText returns the concatenated text segments of the message.
func (e *Event) PlainText() mo.Option[string] {
	msg, ok := e.Message().Get()
	if !ok {
		return mo.None[string]()
	}
	return mo.Some(msg.ExtractPlainText())
}

// RawMessage returns raw_message when present.
func (e *Event) RawMessage() mo.Option[string] {
	return e.optStr(KeyRawMessage)
}

// Sender returns the sender record when present.
func (e *Event) Sender() mo.Option[map[string]any] { return e.optMap(KeySender) }

// Reply returns the replied-to message record when present.
func (e *Event) Reply() mo.Option[map[string]any] { return e.optMap(KeyReply) }

// SetType changes post_type. A detail value stored under the old
// "<post_type>_type" key moves to the new one.
func (e *Event) SetType(t string) {
	old := e.Type()
	if old != "" && old != t {
		if v, ok := e.raw.Get(DetailKey(old)); ok {
			e.raw.Delete(DetailKey(old))
			e.raw.Set(DetailKey(t), v)
		}
	}
	e.raw.Set(KeyPostType, t)
}

// SetDetailType stores d under "<post_type>_type".
func (e *Event) SetDetailType(d string) error {
	t := e.Type()
	if t == "" {
		return ErrNoType
	}
	e.raw.Set(DetailKey(t), d)
	return nil
}

// SetDiscriminators sets post_type and its detail type together.
func (e *Event) SetDiscriminators(t, detail string) {
	if old := e.Type(); old != "" && old != t {
		e.raw.Delete(DetailKey(old))
	}
	e.raw.Set(KeyPostType, t)
	e.raw.Set(DetailKey(t), detail)
}

func (e *Event) SetSubType(s string) { e.raw.Set(KeySubType, s) }
func (e *Event) SetUserID(id int64) { e.raw.Set(KeyUserID, id) }
func (e *Event) SetGroupID(id int64) { e.raw.Set(KeyGroupID, id) }
func (e *Event) SetToMe(b bool) { e.raw.Set(KeyToMe, b) }
func (e *Event) SetMessage(m message.Message) { e.raw.Set(KeyMessage, m) }
func (e *Event) SetRawMessage(s string) { e.raw.Set(KeyRawMessage, s) }
func (e *Event) SetSender(sender map[string]any) { e.raw.Set(KeySender, sender) }
func (e *Event) SetReply(reply map[string]any) { e.raw.Set(KeyReply, reply) }

// Concrete decodes the payload into the Go type of the resolved shape and
// returns a pointer to it, e.g. *PokeNotifyEvent.
func (e *Event) Concrete() (any, error) {
	out := newConcrete(e.res.Shape)
	if err := decodeInto(e.raw.ToMap(), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode maps the payload onto a caller-chosen struct type. Keys the type
// does not declare land in a `mapstructure:",remain"` field when it has one.
func Decode[T any](e *Event) (T, error) {
	var out T
	if e == nil {
		return out, fmt.Errorf("decode: nil event")
	}
	if err := decodeInto(e.raw.ToMap(), &out); err != nil {
		return out, err
	}
	return out, nil
}

// MarshalJSON emits the underlying payload unchanged.
func (e *Event) MarshalJSON() ([]byte, error) {
	return e.raw.MarshalJSON()
}

func (e *Event) String() string {
	name := ""
	if e.res.Shape != nil {
		name = e.res.Shape.Name
	}
	return fmt.Sprintf("[%s] %s", e.Name(), name)
}

func (e *Event) str(key string) (string, bool) {
	v, ok := e.raw.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (e *Event) optStr(key string) mo.Option[string] {
	s, ok := e.str(key)
	if !ok {
		return mo.None[string]()
	}
	return mo.Some(s)
}

func (e *Event) optMap(key string) mo.Option[map[string]any] {
	v, ok := e.raw.Get(key)
	if !ok {
		return mo.None[map[string]any]()
	}
	m, ok := v.(map[string]any)
	if !ok {
		return mo.None[map[string]any]()
	}
	return mo.Some(m)
}
