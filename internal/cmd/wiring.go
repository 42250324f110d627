package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cqhawk/cqevent/internal/dlq"
	natsclient "github.com/cqhawk/cqevent/internal/messaging/nats"
)

func (a *app) natsConfig() natsclient.Config {
	cfg := natsclient.DefaultConfig()
	cfg.URL = a.cfg.NATS.URL
	if a.cfg.NATS.Name != "" {
		cfg.Name = a.cfg.NATS.Name
	}
	cfg.MaxReconnects = a.cfg.NATS.MaxReconnects
	if a.cfg.NATS.ReconnectWait > 0 {
		cfg.ReconnectWait = a.cfg.NATS.ReconnectWait
	}
	cfg.Logger = a.logger.Logger
	return cfg
}

// connectBroker dials NATS. JetStream is enabled when the DLQ lives there.
func (a *app) connectBroker() (*natsclient.Client, *natsclient.JetStreamClient, error) {
	if a.cfg.DLQ.Enabled && a.cfg.DLQ.Backend == "jetstream" {
		js, err := natsclient.NewJetStreamClient(a.natsConfig())
		if err != nil {
			return nil, nil, err
		}
		return js.Client, js, nil
	}
	client, err := natsclient.NewClient(a.natsConfig())
	if err != nil {
		return nil, nil, err
	}
	return client, nil, nil
}

// openDLQ builds the configured dead letter queue. It returns a nil Queue
// when the DLQ is disabled or its backend is unavailable.
func (a *app) openDLQ(ctx context.Context, js *natsclient.JetStreamClient) (dlq.Queue, error) {
	if !a.cfg.DLQ.Enabled {
		a.logger.Info("dead letter queue disabled")
		return nil, nil
	}

	switch a.cfg.DLQ.Backend {
	case "file":
		q, err := dlq.NewFileQueue(a.cfg.DLQ.BasePath, a.logger.Logger)
		if err != nil {
			return nil, fmt.Errorf("open file dlq: %w", err)
		}
		a.logger.Info("dead letter queue enabled",
			slog.String("backend", "file"),
			slog.String("path", a.cfg.DLQ.BasePath))
		a.logger.Warn("file dlq is not shared between instances")
		return q, nil
	case "jetstream":
		if js == nil {
			a.logger.Warn("jetstream dlq needs a nats connection, dead letters will be dropped")
			return nil, nil
		}
		q, err := dlq.NewJetStreamQueue(ctx, js, a.logger.Logger)
		if err != nil {
			return nil, fmt.Errorf("open jetstream dlq: %w", err)
		}
		a.logger.Info("dead letter queue enabled", slog.String("backend", "jetstream"))
		return q, nil
	default:
		return nil, fmt.Errorf("unknown dlq backend %q", a.cfg.DLQ.Backend)
	}
}
