package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cqhawk/cqevent/internal/handlers"
	"github.com/cqhawk/cqevent/pkg/shape"
)

func newCatalogCmd(a *app) *cobra.Command {
	var shapeName string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Describe the shape catalog",
		Long:  "List every shape in the catalog, or the flattened fields of one shape with --shape.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if shapeName != "" {
				return a.describeShape(cmd, shapeName)
			}
			return a.listShapes(cmd)
		},
	}
	cmd.Flags().StringVar(&shapeName, "shape", "", "show the fields of one shape")
	return cmd
}

func (a *app) listShapes(cmd *cobra.Command) error {
	if a.output == outputJSON {
		return writeJSON(cmd.OutOrStdout(), handlers.CatalogResponse{
			Version: a.registry.Version(),
			Shapes:  a.registry.Shapes(),
			Records: a.registry.Records(),
		})
	}

	t := newTable("SHAPE", "LEVEL", "PATH", "FIELDS", "EXTRA")
	for _, s := range a.registry.Shapes() {
		extra := "forbid"
		if s.AllowExtra {
			extra = "allow"
		}
		t.addRow(s.Name, s.Level.String(), s.Path(), strconv.Itoa(len(s.Fields)), extra)
	}
	t.render(cmd.OutOrStdout())
	return nil
}

func (a *app) describeShape(cmd *cobra.Command, name string) error {
	s, ok := a.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown shape %q", name)
	}
	if a.output == outputJSON {
		return writeJSON(cmd.OutOrStdout(), s)
	}

	t := newTable("FIELD", "TYPE", "CONSTRAINT")
	for _, f := range s.Fields {
		t.addRow(f.Name, f.Type.String(), constraint(f))
	}
	t.render(cmd.OutOrStdout())
	return nil
}

func constraint(f shape.Field) string {
	var parts []string
	switch {
	case f.Type == shape.TypeTag:
		parts = append(parts, strconv.Quote(f.Tag))
	case f.Type == shape.TypeRecord:
		parts = append(parts, f.Record)
	}
	if f.Optional {
		parts = append(parts, "optional")
	}
	if f.Nullable {
		parts = append(parts, "nullable")
	}
	return strings.Join(parts, ", ")
}
