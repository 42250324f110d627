// Package service runs the classification pipeline behind the broker.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/cqhawk/cqevent/internal/dedup"
	"github.com/cqhawk/cqevent/internal/dlq"
	"github.com/cqhawk/cqevent/internal/logging"
	"github.com/cqhawk/cqevent/internal/messaging"
	"github.com/cqhawk/cqevent/internal/metrics"
	"github.com/cqhawk/cqevent/internal/model"
	"github.com/cqhawk/cqevent/internal/pipeline"
	"github.com/cqhawk/cqevent/pkg/event"
)

// ErrDuplicate is returned by Process for events already seen within the
// dedup window. Duplicates are neither published nor dead-lettered.
var ErrDuplicate = errors.New("duplicate event")

// ReasonPublish marks envelopes that classified but could not be published.
const ReasonPublish = "publish"

// Options wires the optional collaborators of a Processor.
type Options struct {
	// Publisher receives classified events. Nil disables publishing.
	Publisher messaging.Publisher
	// DLQ receives failed envelopes. Nil drops them after logging.
	DLQ dlq.Writer
	// Dedup suppresses redelivered events. Nil disables suppression.
	Dedup dedup.Deduplicator
	// EventsPrefix is the subject prefix for classified events.
	EventsPrefix string
	// Workers sizes the pool used by Handle. Values below one mean one.
	Workers int
	Logger  *logging.Logger
}

// Processor wraps the pipeline, publishes results and captures basic telemetry.
type Processor struct {
	pipeline     *pipeline.Pipeline
	publisher    messaging.Publisher
	dlq          dlq.Writer
	dedup        dedup.Deduplicator
	eventsPrefix string
	pool         *workerpool.WorkerPool
	logger       *logging.Logger

	startedAt  time.Time
	processed  atomic.Uint64
	failed     atomic.Uint64
	duplicates atomic.Uint64
	published  atomic.Uint64
}

// NewProcessor creates a Processor. Call Stop to release its workers.
func NewProcessor(p *pipeline.Pipeline, opts Options) *Processor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.EventsPrefix == "" {
		opts.EventsPrefix = messaging.SubjectEvents
	}
	if opts.Dedup == nil {
		opts.Dedup = dedup.NoOp{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Processor{
		pipeline:     p,
		publisher:    opts.Publisher,
		dlq:          opts.DLQ,
		dedup:        opts.Dedup,
		eventsPrefix: opts.EventsPrefix,
		pool:         workerpool.New(opts.Workers),
		logger:       opts.Logger.With(logging.Component("processor")),
		startedAt:    time.Now().UTC(),
	}
}

// Process classifies envelope, drops duplicates and publishes the result.
func (p *Processor) Process(ctx context.Context, envelope *model.RawEventEnvelope) (*event.Event, error) {
	ev, err := p.pipeline.Process(ctx, envelope)
	if err != nil {
		p.fail(ctx, envelope, err, pipeline.Reason(err))
		return nil, err
	}

	seen, err := p.dedup.Seen(ctx, ev)
	if err != nil {
		p.logger.WarnContext(ctx, "dedup check failed, processing anyway", logging.Error(err))
	}
	if seen {
		p.duplicates.Add(1)
		return ev, ErrDuplicate
	}

	if err := p.publish(ctx, envelope, ev); err != nil {
		metrics.PublishErrors.Inc()
		// A retried delivery must not be dropped as a duplicate.
		if forgetErr := p.dedup.Forget(ctx, ev); forgetErr != nil {
			p.logger.WarnContext(ctx, "dedup release failed", logging.Error(forgetErr))
		}
		p.fail(ctx, envelope, err, ReasonPublish)
		return ev, err
	}

	p.processed.Add(1)
	return ev, nil
}

func (p *Processor) publish(ctx context.Context, envelope *model.RawEventEnvelope, ev *event.Event) error {
	if p.publisher == nil {
		return nil
	}
	data, err := pipeline.MarshalResult(envelope.ID, ev)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	subject := messaging.EventSubject(p.eventsPrefix, ev.Name())
	err = p.publisher.Publish(ctx, subject, data,
		messaging.WithHeader(messaging.HeaderEnvelopeID, envelope.ID),
		messaging.WithHeader(messaging.HeaderShape, ev.Shape().Name),
		messaging.WithHeader(messaging.HeaderMatch, ev.Match().String()))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	p.published.Add(1)
	return nil
}

func (p *Processor) fail(ctx context.Context, envelope *model.RawEventEnvelope, err error, reason string) {
	p.failed.Add(1)

	var envelopeID string
	if envelope != nil {
		envelopeID = envelope.ID
	}
	ctx = logging.ContextWithEnvelopeID(ctx, envelopeID)
	p.logger.WarnContext(ctx, "event rejected", "reason", reason, logging.Error(err))

	if p.dlq == nil {
		return
	}
	if dlqErr := p.dlq.Write(ctx, envelope, err, reason); dlqErr != nil {
		p.logger.ErrorContext(ctx, "failed to write dlq entry", logging.Error(dlqErr))
	}
}

// Handle is a messaging.MessageHandler that queues msg on the worker pool.
func (p *Processor) Handle(ctx context.Context, msg *messaging.Message) error {
	envelope := model.NewEnvelope("nats", msg.Data)
	envelope.Subject = msg.Subject
	envelope.Attributes = msg.Metadata

	p.pool.Submit(func() {
		_, _ = p.Process(ctx, envelope)
	})
	metrics.QueueWaiting.Set(float64(p.pool.WaitingQueueSize()))
	return nil
}

// Stop waits for queued envelopes to finish and releases the workers.
func (p *Processor) Stop() {
	p.pool.StopWait()
	metrics.QueueWaiting.Set(0)
}

// Stats is a snapshot of processor counters.
type Stats struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Processed     uint64 `json:"processed"`
	Failed        uint64 `json:"failed"`
	Duplicates    uint64 `json:"duplicates"`
	Published     uint64 `json:"published"`
	Waiting       int    `json:"waiting"`
}

// Health returns live status for health checks.
func (p *Processor) Health() Stats {
	return Stats{
		UptimeSeconds: int64(time.Since(p.startedAt).Seconds()),
		Processed:     p.processed.Load(),
		Failed:        p.failed.Load(),
		Duplicates:    p.duplicates.Load(),
		Published:     p.published.Load(),
		Waiting:       p.pool.WaitingQueueSize(),
	}
}
