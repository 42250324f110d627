package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/cqhawk/cqevent/internal/messaging"
	"github.com/cqhawk/cqevent/internal/seeder"
	"github.com/cqhawk/cqevent/pkg/event"
)

type sampleOptions struct {
	count   int
	seed    int64
	publish bool
}

func newSampleCmd(a *app) *cobra.Command {
	opts := &sampleOptions{}
	cmd := &cobra.Command{
		Use:   "sample [shape...]",
		Short: "Generate sample CQHTTP payloads",
		Long: `Sample fabricates payloads that classify as the given shapes, or as random
shapes when none are named. Payloads are printed as JSON lines, or published
to cqhttp.raw.<self_id> with --publish.`,
		Example: `  cqevent sample --count 5 PokeNotifyEvent
  cqevent sample --count 1000 --seed 42 --publish`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSample(cmd, args, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "number of payloads")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed, 0 picks one")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "publish to nats instead of printing")
	return cmd
}

func (a *app) runSample(cmd *cobra.Command, names []string, opts *sampleOptions) error {
	if opts.count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", opts.count)
	}
	batch, err := seeder.New(a.registry, opts.seed).Batch(opts.count, names...)
	if err != nil {
		return err
	}

	if !opts.publish {
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, raw := range batch {
			if err := enc.Encode(raw); err != nil {
				return err
			}
		}
		return nil
	}

	client, _, err := a.connectBroker()
	if err != nil {
		return err
	}
	defer client.Close()

	for _, raw := range batch {
		data, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		if err := client.Publish(cmd.Context(), rawSubject(raw), data); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}
	if err := client.Drain(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "published %d payloads to %s.*\n", len(batch), messaging.SubjectRaw)
	return nil
}

// rawSubject mirrors how a bot adapter publishes: one subject per bot account.
func rawSubject(raw *event.RawEvent) string {
	selfID := "0"
	if v, ok := raw.Get(event.KeySelfID); ok {
		selfID = cast.ToString(v)
	}
	return messaging.SubjectRaw + "." + selfID
}
