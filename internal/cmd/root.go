// Package cmd implements the cqevent command line.
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cqhawk/cqevent/internal/config"
	"github.com/cqhawk/cqevent/internal/logging"
	"github.com/cqhawk/cqevent/pkg/shape"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// app carries state shared by subcommands once the root pre-run has loaded it.
type app struct {
	cfgFile string
	output  string

	cfg      *config.Config
	logger   *logging.Logger
	registry *shape.Registry
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cqevent",
		Short: "CQHTTP event classifier",
		Long: `cqevent classifies OneBot v11 (CQHTTP) event payloads into typed shapes.

It can classify payloads from files, describe the shape catalog, fabricate
sample payloads and run as a service between NATS subjects.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", outputTable, "output format: table, json")

	root.AddCommand(
		newClassifyCmd(a),
		newCatalogCmd(a),
		newSampleCmd(a),
		newServeCmd(a),
		newDLQCmd(a),
	)
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) init(stderr io.Writer) error {
	if a.output != outputTable && a.output != outputJSON {
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.NewWithWriter(stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service("cqevent"))
	logging.SetDefault(a.logger)

	reg, err := loadRegistry(cfg.Catalog.Paths)
	if err != nil {
		return err
	}
	a.registry = reg
	return nil
}

// loadRegistry merges catalog files over the built-in catalog, in order.
func loadRegistry(paths []string) (*shape.Registry, error) {
	cat := shape.DefaultCatalog()
	for _, path := range paths {
		ext, err := shape.LoadCatalogFile(path)
		if err != nil {
			return nil, err
		}
		if err := cat.Extend(ext); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	reg, err := shape.NewRegistry(cat)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	return reg, nil
}
