package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cqhawk/cqevent/internal/dedup"
	"github.com/cqhawk/cqevent/internal/handlers"
	"github.com/cqhawk/cqevent/internal/logging"
	"github.com/cqhawk/cqevent/internal/messaging"
	natsclient "github.com/cqhawk/cqevent/internal/messaging/nats"
	"github.com/cqhawk/cqevent/internal/pipeline"
	"github.com/cqhawk/cqevent/internal/server"
	"github.com/cqhawk/cqevent/internal/service"
	"github.com/cqhawk/cqevent/pkg/classifier"
)

func newServeCmd(a *app) *cobra.Command {
	var httpOnly bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the classifier service",
		Long: `Serve consumes raw payloads from NATS, classifies them and publishes each
event on <events_prefix>.<post_type>.<detail_type>[.<sub_type>]. Payloads that
fail are written to the dead letter queue.

The HTTP listener accepts payloads on POST /api/v1/events and exposes health,
catalog, dlq and metrics endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, httpOnly)
		},
	}
	cmd.Flags().BoolVar(&httpOnly, "http-only", false, "do not connect to nats")
	return cmd
}

func (a *app) serve(ctx context.Context, httpOnly bool) error {
	logger := a.logger
	logger.Info("starting cqevent",
		slog.Int("port", a.cfg.Server.Port),
		slog.String("log_level", a.cfg.Logging.Level),
		slog.String("catalog_version", a.registry.Version()),
		slog.Int("shapes", len(a.registry.Shapes())))

	c := classifier.New(a.registry, classifier.WithLogger(logger.Logger))
	p := pipeline.New(c, logger)

	var dedupe dedup.Deduplicator = dedup.NoOp{}
	if a.cfg.Redis.Enabled {
		d, err := dedup.Connect(ctx, a.cfg.Redis.URL, a.cfg.Redis.DedupTTL)
		if err != nil {
			logger.Warn("redis unavailable, continuing without duplicate suppression", logging.Error(err))
		} else {
			dedupe = d
			logger.Info("duplicate suppression enabled", slog.Duration("ttl", a.cfg.Redis.DedupTTL))
		}
	}
	defer dedupe.Close()

	var (
		broker messaging.Client
		js     *natsclient.JetStreamClient
		opts   service.Options
	)
	if !httpOnly {
		client, jsClient, err := a.connectBroker()
		if err != nil {
			return err
		}
		defer client.Close()
		broker, js = client, jsClient
		opts.Publisher = client
	}

	queue, err := a.openDLQ(ctx, js)
	if err != nil {
		return err
	}
	opts.DLQ = queue
	opts.Dedup = dedupe
	opts.EventsPrefix = a.cfg.Subjects.EventsPrefix
	opts.Workers = a.cfg.Workers.Count
	opts.Logger = logger

	proc := service.NewProcessor(p, opts)

	var sub messaging.Subscription
	if broker != nil {
		sub, err = broker.QueueSubscribe(a.cfg.Subjects.Raw, a.cfg.NATS.QueueGroup, proc.Handle)
		if err != nil {
			proc.Stop()
			return fmt.Errorf("subscribe to %s: %w", a.cfg.Subjects.Raw, err)
		}
		logger.Info("consuming raw events",
			logging.Subject(a.cfg.Subjects.Raw),
			slog.String("queue_group", a.cfg.NATS.QueueGroup),
			slog.Int("workers", a.cfg.Workers.Count))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      server.NewRouter(handlers.New(proc, a.registry, queue, broker)),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listener started", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("unsubscribe failed", logging.Error(err))
		}
	}
	proc.Stop()
	if broker != nil {
		if err := broker.Drain(); err != nil {
			logger.Warn("nats drain failed", logging.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	stats := proc.Health()
	logger.Info("cqevent stopped",
		slog.Uint64("processed", stats.Processed),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("published", stats.Published))
	return serveErr
}
