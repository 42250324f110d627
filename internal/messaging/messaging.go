// Package messaging decouples the classifier service from the broker that
// delivers raw payloads and receives classified events.
package messaging

import (
	"context"
	"time"
)

// Message is one payload received from or sent to the broker.
type Message struct {
	Subject   string
	Data      []byte
	Reply     string
	Metadata  map[string]string
	Timestamp time.Time
}

// Header returns the metadata value for key, or "".
func (m *Message) Header(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// MessageHandler processes a received message. A returned error is reported
// by the transport and may trigger redelivery.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription is an active subscription to a subject.
type Subscription interface {
	Unsubscribe() error
	Subject() string
	IsValid() bool
}

// Publisher publishes messages to subjects.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error
	PublishMsg(ctx context.Context, msg *Message) error
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error)
	Close() error
}

// Subscriber subscribes to subjects.
type Subscriber interface {
	Subscribe(subject string, handler MessageHandler) (Subscription, error)
	// QueueSubscribe load-balances messages across members of queue.
	QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error)
	Close() error
}

// Client combines Publisher and Subscriber.
type Client interface {
	Publisher
	Subscriber

	// Drain lets in-flight messages finish before closing.
	Drain() error
	IsConnected() bool
}

// PublishOption configures a single publish.
type PublishOption func(*PublishOptions)

// PublishOptions is the resolved form of a PublishOption list.
type PublishOptions struct {
	Headers map[string]string
}

// WithHeader adds a header to the published message.
func WithHeader(key, value string) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// ApplyPublishOptions folds opts into a PublishOptions value.
func ApplyPublishOptions(opts ...PublishOption) PublishOptions {
	var o PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
