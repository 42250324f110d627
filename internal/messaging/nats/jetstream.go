package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/cqhawk/cqevent/internal/messaging"
)

// JetStreamClient adds JetStream persistence to Client.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig describes a JetStream stream.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// DLQStream keeps payloads the classifier rejected for a week.
var DLQStream = StreamConfig{
	Name:      "CQHTTP_DLQ",
	Subjects:  []string{messaging.SubjectDLQ + ".>"},
	MaxAge:    7 * 24 * time.Hour,
	MaxBytes:  256 * 1024 * 1024,
	MaxMsgs:   100000,
	Retention: jetstream.LimitsPolicy,
	Storage:   jetstream.FileStorage,
}

// NewJetStreamClient connects to NATS and opens a JetStream context.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &JetStreamClient{Client: client, js: js}, nil
}

// CreateOrUpdateStream creates cfg's stream or updates it in place.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// PublishSync publishes data and waits for the stream acknowledgement.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	return c.js.Publish(ctx, subject, data)
}
