package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/cqhawk/cqevent/internal/logging"
	"github.com/cqhawk/cqevent/internal/messaging"
	"github.com/cqhawk/cqevent/internal/messaging/nats"
	"github.com/cqhawk/cqevent/internal/metrics"
	"github.com/cqhawk/cqevent/internal/model"
)

// JetStreamQueue publishes failed payloads to the CQHTTP_DLQ stream so every
// classifier instance shares one queue.
type JetStreamQueue struct {
	js      *nats.JetStreamClient
	stream  jetstream.Stream
	logger  *slog.Logger
	written atomic.Uint64
}

// NewJetStreamQueue ensures the DLQ stream exists.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *slog.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}
	logger = logger.With(logging.Component("dlq"))
	logger.Info("dlq stream ready", slog.String("stream", nats.DLQStream.Name))

	return &JetStreamQueue{js: js, stream: stream, logger: logger}, nil
}

// Write publishes the failure to cqhttp.dlq.<reason>.
func (q *JetStreamQueue) Write(ctx context.Context, envelope *model.RawEventEnvelope, err error, reason string) error {
	if q == nil {
		return nil
	}

	data, marshalErr := json.Marshal(NewFailedEvent(envelope, err, reason))
	if marshalErr != nil {
		metrics.DLQWrites.WithLabelValues(reason, "error").Inc()
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	if _, pubErr := q.js.PublishSync(ctx, messaging.DLQSubject(reason), data); pubErr != nil {
		metrics.DLQWrites.WithLabelValues(reason, "error").Inc()
		return fmt.Errorf("publish dlq entry: %w", pubErr)
	}

	q.written.Add(1)
	metrics.DLQWrites.WithLabelValues(reason, "ok").Inc()
	return nil
}

// Stats reports stream state.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]any {
	if q == nil {
		return map[string]any{"enabled": false, "backend": "jetstream"}
	}

	stats := map[string]any{
		"enabled":       true,
		"backend":       "jetstream",
		"written_local": q.written.Load(),
	}
	info, err := q.stream.Info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	stats["first_seq"] = info.State.FirstSeq
	stats["last_seq"] = info.State.LastSeq
	return stats
}

// List reads up to limit entries through an ephemeral consumer.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messaging.SubjectDLQ + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch dlq messages: %w", err)
	}

	var events []FailedEvent
	for msg := range batch.Messages() {
		var failed FailedEvent
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			q.logger.Warn("failed to parse dlq message", logging.Error(err))
			continue
		}
		events = append(events, failed)
	}
	if err := batch.Error(); err != nil {
		q.logger.Debug("dlq fetch finished early", logging.Error(err))
	}
	return events, nil
}

// Purge empties the stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if q == nil {
		return ErrDisabled
	}
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.Info("purged dlq stream")
	return nil
}
