package cmd

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/cqhawk/cqevent/internal/dlq"
	natsclient "github.com/cqhawk/cqevent/internal/messaging/nats"
)

func newDLQCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect the dead letter queue",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List failed payloads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDLQ(cmd.Context(), func(q dlq.Queue) error {
				entries, err := q.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if a.output == outputJSON {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				t := newTable("TIME", "ENVELOPE", "REASON", "SHAPE", "FIELD", "ERROR")
				for _, e := range entries {
					id := ""
					if e.Envelope != nil {
						id = e.Envelope.ID
					}
					t.addRow(e.Timestamp.Format(time.RFC3339), id, e.Reason, e.Shape, e.Field, e.Error)
				}
				t.render(cmd.OutOrStdout())
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 100, "maximum entries, 0 for all")

	var yes bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every failed payload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to purge without --yes")
			}
			return a.withDLQ(cmd.Context(), func(q dlq.Queue) error {
				if err := q.Purge(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "dlq purged")
				return nil
			})
		},
	}
	purge.Flags().BoolVar(&yes, "yes", false, "confirm the purge")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDLQ(cmd.Context(), func(q dlq.Queue) error {
				s := q.Stats(cmd.Context())
				if a.output == outputJSON {
					return writeJSON(cmd.OutOrStdout(), s)
				}
				t := newTable("KEY", "VALUE")
				for _, k := range sortedStatKeys(s) {
					t.addRow(k, fmt.Sprint(s[k]))
				}
				t.render(cmd.OutOrStdout())
				return nil
			})
		},
	}

	cmd.AddCommand(list, purge, stats)
	return cmd
}

// withDLQ opens the configured queue, connecting to JetStream when needed.
func (a *app) withDLQ(ctx context.Context, fn func(dlq.Queue) error) error {
	if !a.cfg.DLQ.Enabled {
		return errors.New("dead letter queue is disabled")
	}

	var js *natsclient.JetStreamClient
	if a.cfg.DLQ.Backend == "jetstream" {
		client, err := natsclient.NewJetStreamClient(a.natsConfig())
		if err != nil {
			return err
		}
		defer client.Close()
		js = client
	}

	q, err := a.openDLQ(ctx, js)
	if err != nil {
		return err
	}
	return fn(q)
}

func sortedStatKeys(s map[string]any) []string {
	return slices.Sorted(maps.Keys(s))
}
