package event

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"

	"github.com/cqhawk/cqevent/pkg/message"
	"github.com/cqhawk/cqevent/pkg/shape"
)

// Header holds the fields every event carries.
type Header struct {
	Time     int64  `mapstructure:"time" json:"time"`
	SelfID   int64  `mapstructure:"self_id" json:"self_id"`
	PostType string `mapstructure:"post_type" json:"post_type"`
}

// UnknownEvent is the concrete type for post types the catalog does not know.
type UnknownEvent struct {
	Header `mapstructure:",squash"`
	Extra  map[string]any `mapstructure:",remain" json:"-"`
}

// Sender describes the author of a message. Every field is optional on the wire.
type Sender struct {
	UserID   int64          `mapstructure:"user_id" json:"user_id,omitempty"`
	Nickname string         `mapstructure:"nickname" json:"nickname,omitempty"`
	Sex      string         `mapstructure:"sex" json:"sex,omitempty"`
	Age      int64          `mapstructure:"age" json:"age,omitempty"`
	Card     string         `mapstructure:"card" json:"card,omitempty"`
	Area     string         `mapstructure:"area" json:"area,omitempty"`
	Level    string         `mapstructure:"level" json:"level,omitempty"`
	Role     string         `mapstructure:"role" json:"role,omitempty"`
	Title    string         `mapstructure:"title" json:"title,omitempty"`
	Extra    map[string]any `mapstructure:",remain" json:"-"`
}

// Anonymous identifies an anonymous group member.
type Anonymous struct {
	ID    int64          `mapstructure:"id" json:"id"`
	Name  string         `mapstructure:"name" json:"name"`
	Flag  string         `mapstructure:"flag" json:"flag"`
	Extra map[string]any `mapstructure:",remain" json:"-"`
}

// File describes a group upload.
type File struct {
	ID    string         `mapstructure:"id" json:"id"`
	Name  string         `mapstructure:"name" json:"name"`
	Size  int64          `mapstructure:"size" json:"size"`
	BusID int64          `mapstructure:"busid" json:"busid"`
	Extra map[string]any `mapstructure:",remain" json:"-"`
}

// Status is the bot status reported by heartbeats.
type Status struct {
	Online bool           `mapstructure:"online" json:"online"`
	Good   bool           `mapstructure:"good" json:"good"`
	Extra  map[string]any `mapstructure:",remain" json:"-"`
}

// MessageEvent is the level-1 shape for post_type "message".
type MessageEvent struct {
	Header      `mapstructure:",squash"`
	MessageType string         `mapstructure:"message_type" json:"message_type"`
	Extra       map[string]any `mapstructure:",remain" json:"-"`
}

type PrivateMessageEvent struct {
	Header      `mapstructure:",squash"`
	MessageType string          `mapstructure:"message_type" json:"message_type"`
	SubType     string          `mapstructure:"sub_type" json:"sub_type"`
	MessageID   int64           `mapstructure:"message_id" json:"message_id"`
	UserID      int64           `mapstructure:"user_id" json:"user_id"`
	Message     message.Message `mapstructure:"message" json:"message"`
	RawMessage  string          `mapstructure:"raw_message" json:"raw_message"`
	Font        int64           `mapstructure:"font" json:"font"`
	Sender      Sender          `mapstructure:"sender" json:"sender"`
	ToMe        bool            `mapstructure:"to_me" json:"to_me"`
	Extra       map[string]any  `mapstructure:",remain" json:"-"`
}

type GroupMessageEvent struct {
	Header      `mapstructure:",squash"`
	MessageType string          `mapstructure:"message_type" json:"message_type"`
	SubType     string          `mapstructure:"sub_type" json:"sub_type"`
	MessageID   int64           `mapstructure:"message_id" json:"message_id"`
	GroupID     int64           `mapstructure:"group_id" json:"group_id"`
	UserID      int64           `mapstructure:"user_id" json:"user_id"`
	Anonymous   *Anonymous      `mapstructure:"anonymous" json:"anonymous"`
	Message     message.Message `mapstructure:"message" json:"message"`
	RawMessage  string          `mapstructure:"raw_message" json:"raw_message"`
	Font        int64           `mapstructure:"font" json:"font"`
	Sender      Sender          `mapstructure:"sender" json:"sender"`
	ToMe        bool            `mapstructure:"to_me" json:"to_me"`
	Extra       map[string]any  `mapstructure:",remain" json:"-"`
}

// NoticeEvent is the level-1 shape for post_type "notice".
type NoticeEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

type GroupUploadEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	GroupID    int64          `mapstructure:"group_id" json:"group_id"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	File       File           `mapstructure:"file" json:"file"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

type GroupAdminEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	SubType    string         `mapstructure:"sub_type" json:"sub_type"`
	GroupID    int64          `mapstructure:"group_id" json:"group_id"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

type GroupDecreaseEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	SubType    string         `mapstructure:"sub_type" json:"sub_type"`
	GroupID    int64          `mapstructure:"group_id" json:"group_id"`
	OperatorID int64          `mapstructure:"operator_id" json:"operator_id"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

type GroupIncreaseEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	SubType    string         `mapstructure:"sub_type" json:"sub_type"`
	GroupID    int64          `mapstructure:"group_id" json:"group_id"`
	OperatorID int64          `mapstructure:"operator_id" json:"operator_id"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

type GroupBanEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	SubType    string         `mapstructure:"sub_type" json:"sub_type"`
	GroupID    int64          `mapstructure:"group_id" json:"group_id"`
	OperatorID int64          `mapstructure:"operator_id" json:"operator_id"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	Duration   int64          `mapstructure:"duration" json:"duration"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

type FriendAddEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

type GroupRecallEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	GroupID    int64          `mapstructure:"group_id" json:"group_id"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	OperatorID int64          `mapstructure:"operator_id" json:"operator_id"`
	MessageID  int64          `mapstructure:"message_id" json:"message_id"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

type FriendRecallEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	MessageID  int64          `mapstructure:"message_id" json:"message_id"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

// NotifyEvent covers notify notices whose sub_type has no dedicated shape.
type NotifyEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	SubType    string         `mapstructure:"sub_type" json:"sub_type"`
	GroupID    int64          `mapstructure:"group_id" json:"group_id"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

type PokeNotifyEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	SubType    string         `mapstructure:"sub_type" json:"sub_type"`
	GroupID    int64          `mapstructure:"group_id" json:"group_id"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	TargetID   int64          `mapstructure:"target_id" json:"target_id"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

type LuckyKingNotifyEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	SubType    string         `mapstructure:"sub_type" json:"sub_type"`
	GroupID    int64          `mapstructure:"group_id" json:"group_id"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	TargetID   int64          `mapstructure:"target_id" json:"target_id"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

type HonorNotifyEvent struct {
	Header     `mapstructure:",squash"`
	NoticeType string         `mapstructure:"notice_type" json:"notice_type"`
	SubType    string         `mapstructure:"sub_type" json:"sub_type"`
	GroupID    int64          `mapstructure:"group_id" json:"group_id"`
	UserID     int64          `mapstructure:"user_id" json:"user_id"`
	HonorType  string         `mapstructure:"honor_type" json:"honor_type"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

// RequestEvent is the level-1 shape for post_type "request".
type RequestEvent struct {
	Header      `mapstructure:",squash"`
	RequestType string         `mapstructure:"request_type" json:"request_type"`
	Extra       map[string]any `mapstructure:",remain" json:"-"`
}

type FriendRequestEvent struct {
	Header      `mapstructure:",squash"`
	RequestType string         `mapstructure:"request_type" json:"request_type"`
	UserID      int64          `mapstructure:"user_id" json:"user_id"`
	Comment     string         `mapstructure:"comment" json:"comment"`
	Flag        string         `mapstructure:"flag" json:"flag"`
	Extra       map[string]any `mapstructure:",remain" json:"-"`
}

type GroupRequestEvent struct {
	Header      `mapstructure:",squash"`
	RequestType string         `mapstructure:"request_type" json:"request_type"`
	SubType     string         `mapstructure:"sub_type" json:"sub_type"`
	GroupID     int64          `mapstructure:"group_id" json:"group_id"`
	UserID      int64          `mapstructure:"user_id" json:"user_id"`
	Comment     string         `mapstructure:"comment" json:"comment"`
	Flag        string         `mapstructure:"flag" json:"flag"`
	Extra       map[string]any `mapstructure:",remain" json:"-"`
}

// MetaEvent is the level-1 shape for post_type "meta_event".
type MetaEvent struct {
	Header        `mapstructure:",squash"`
	MetaEventType string         `mapstructure:"meta_event_type" json:"meta_event_type"`
	Extra         map[string]any `mapstructure:",remain" json:"-"`
}

type LifecycleMetaEvent struct {
	Header        `mapstructure:",squash"`
	MetaEventType string         `mapstructure:"meta_event_type" json:"meta_event_type"`
	SubType       string         `mapstructure:"sub_type" json:"sub_type"`
	Extra         map[string]any `mapstructure:",remain" json:"-"`
}

type HeartbeatMetaEvent struct {
	Header        `mapstructure:",squash"`
	MetaEventType string         `mapstructure:"meta_event_type" json:"meta_event_type"`
	Status        Status         `mapstructure:"status" json:"status"`
	Interval      int64          `mapstructure:"interval" json:"interval"`
	Extra         map[string]any `mapstructure:",remain" json:"-"`
}

// concreteTypes maps catalog shape names to constructors of their Go type.
var concreteTypes = map[string]func() any{
	"UnknownEvent":         func() any { return new(UnknownEvent) },
	"MessageEvent":         func() any { return new(MessageEvent) },
	"PrivateMessageEvent":  func() any { return new(PrivateMessageEvent) },
	"GroupMessageEvent":    func() any { return new(GroupMessageEvent) },
	"NoticeEvent":          func() any { return new(NoticeEvent) },
	"GroupUploadEvent":     func() any { return new(GroupUploadEvent) },
	"GroupAdminEvent":      func() any { return new(GroupAdminEvent) },
	"GroupDecreaseEvent":   func() any { return new(GroupDecreaseEvent) },
	"GroupIncreaseEvent":   func() any { return new(GroupIncreaseEvent) },
	"GroupBanEvent":        func() any { return new(GroupBanEvent) },
	"FriendAddEvent":       func() any { return new(FriendAddEvent) },
	"GroupRecallEvent":     func() any { return new(GroupRecallEvent) },
	"FriendRecallEvent":    func() any { return new(FriendRecallEvent) },
	"NotifyEvent":          func() any { return new(NotifyEvent) },
	"PokeNotifyEvent":      func() any { return new(PokeNotifyEvent) },
	"LuckyKingNotifyEvent": func() any { return new(LuckyKingNotifyEvent) },
	"HonorNotifyEvent":     func() any { return new(HonorNotifyEvent) },
	"RequestEvent":         func() any { return new(RequestEvent) },
	"FriendRequestEvent":   func() any { return new(FriendRequestEvent) },
	"GroupRequestEvent":    func() any { return new(GroupRequestEvent) },
	"MetaEvent":            func() any { return new(MetaEvent) },
	"LifecycleMetaEvent":   func() any { return new(LifecycleMetaEvent) },
	"HeartbeatMetaEvent":   func() any { return new(HeartbeatMetaEvent) },
}

var postTypeFallback = map[string]string{
	"message":    "MessageEvent",
	"notice":     "NoticeEvent",
	"request":    "RequestEvent",
	"meta_event": "MetaEvent",
}

// newConcrete returns a pointer to the Go type for s. Shapes added by catalog
// extensions without a Go type fall back to their post type's type, then to
// UnknownEvent.
func newConcrete(s *shape.Shape) any {
	if s != nil {
		if ctor, ok := concreteTypes[s.Name]; ok {
			return ctor()
		}
		if name, ok := postTypeFallback[s.PostType]; ok {
			return concreteTypes[name]()
		}
	}
	return new(UnknownEvent)
}

// HasConcreteType reports whether a dedicated Go type exists for the shape name.
func HasConcreteType(name string) bool {
	_, ok := concreteTypes[name]
	return ok
}

var messageType = reflect.TypeOf(message.Message{})

func messageHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != messageType || from == messageType {
		return data, nil
	}
	return message.Parse(data)
}

var numberType = reflect.TypeOf(json.Number(""))

// numberHook converts json.Number to the numeric kind of the target so
// integral values written as "1.0" decode into int fields.
func numberHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from != numberType {
		return data, nil
	}
	n := data.(json.Number)
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cast.ToInt64E(string(n))
	case reflect.Float32, reflect.Float64:
		return n.Float64()
	default:
		return data, nil
	}
}

// decodeInto maps input onto out, which must be a pointer to a struct.
func decodeInto(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(messageHook, numberHook),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	return nil
}
