// Package nats implements the messaging interfaces over NATS core and JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cqhawk/cqevent/internal/logging"
	"github.com/cqhawk/cqevent/internal/messaging"
)

// Client implements messaging.Client using a NATS connection.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs []*subscription
}

// Config holds NATS client configuration.
type Config struct {
	URL  string
	Name string
	// MaxReconnects of -1 retries forever.
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	Username string
	Password string
	Token    string

	// Logger receives connection state changes and handler failures.
	Logger *slog.Logger
}

// DefaultConfig returns a Config for a local server.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "cqevent",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewClient connects to NATS.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(logging.Component("nats"))

	conn, err := nats.Connect(cfg.URL, connectOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

func connectOptions(cfg Config, logger *slog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	return opts
}

// Publish sends data to subject.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, opts ...messaging.PublishOption) error {
	o := messaging.ApplyPublishOptions(opts...)
	return c.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data, Metadata: o.Headers})
}

// PublishMsg sends msg including its metadata as headers.
func (c *Client) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.PublishMsg(messageToNATS(msg))
}

// Request sends data and waits for one reply.
func (c *Client) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*messaging.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.conn.Request(subject, data, timeout)
	if err != nil {
		return nil, err
	}
	return natsToMessage(resp), nil
}

// Subscribe delivers every message on subject to handler.
func (c *Client) Subscribe(subject string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, c.dispatch(subject, handler))
	if err != nil {
		return nil, err
	}
	return c.track(sub), nil
}

// QueueSubscribe delivers each message on subject to one member of queue.
func (c *Client) QueueSubscribe(subject, queue string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	sub, err := c.conn.QueueSubscribe(subject, queue, c.dispatch(subject, handler))
	if err != nil {
		return nil, err
	}
	return c.track(sub), nil
}

func (c *Client) dispatch(subject string, handler messaging.MessageHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if err := handler(context.Background(), natsToMessage(msg)); err != nil {
			c.logger.Warn("message handler failed",
				logging.Subject(subject),
				logging.Error(err))
		}
	}
}

func (c *Client) track(sub *nats.Subscription) *subscription {
	s := &subscription{natsSub: sub}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	return s
}

// Close unsubscribes everything and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
	c.conn.Close()
	return nil
}

// Drain lets in-flight messages finish, then closes.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

type subscription struct {
	natsSub *nats.Subscription
}

func (s *subscription) Unsubscribe() error {
	return s.natsSub.Unsubscribe()
}

func (s *subscription) Subject() string {
	return s.natsSub.Subject
}

func (s *subscription) IsValid() bool {
	return s.natsSub.IsValid()
}

func messageToNATS(msg *messaging.Message) *nats.Msg {
	out := &nats.Msg{
		Subject: msg.Subject,
		Data:    msg.Data,
		Reply:   msg.Reply,
	}
	if len(msg.Metadata) > 0 {
		out.Header = make(nats.Header, len(msg.Metadata))
		for k, v := range msg.Metadata {
			out.Header.Set(k, v)
		}
	}
	return out
}

// natsToMessage stamps the receive time; NATS core carries no publish time.
func natsToMessage(msg *nats.Msg) *messaging.Message {
	m := &messaging.Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Reply:     msg.Reply,
		Timestamp: time.Now(),
	}
	if msg.Header != nil {
		m.Metadata = make(map[string]string, len(msg.Header))
		for k := range msg.Header {
			m.Metadata[k] = msg.Header.Get(k)
		}
	}
	return m
}
