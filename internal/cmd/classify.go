package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cqhawk/cqevent/internal/pipeline"
	"github.com/cqhawk/cqevent/pkg/classifier"
	"github.com/cqhawk/cqevent/pkg/event"
)

// errClassifyFailed makes the command exit non-zero in strict mode.
var errClassifyFailed = errors.New("one or more payloads failed to classify")

type classifyOptions struct {
	as     string
	strict bool
}

// classifyOutcome is one line of classify output.
type classifyOutcome struct {
	Source string                      `json:"source"`
	Result *pipeline.Result            `json:"result,omitempty"`
	Error  string                      `json:"error,omitempty"`
	Detail *classifier.ValidationError `json:"validation,omitempty"`
}

func newClassifyCmd(a *app) *cobra.Command {
	opts := &classifyOptions{}
	cmd := &cobra.Command{
		Use:   "classify [file...]",
		Short: "Classify CQHTTP payloads from files or stdin",
		Long: `Classify reads JSON payloads and reports the shape each one resolves to.

A file may hold one payload or a stream of payloads (JSON lines). With no
files, or with "-", payloads are read from stdin.`,
		Example: `  cqevent classify event.json
  cat events.jsonl | cqevent classify -o json
  cqevent classify --as PokeNotifyEvent poke.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runClassify(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.as, "as", "", "validate against this shape instead of resolving one")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit non-zero if any payload fails")
	return cmd
}

func (a *app) runClassify(cmd *cobra.Command, args []string, opts *classifyOptions) error {
	if len(args) == 0 {
		args = []string{"-"}
	}
	c := classifier.New(a.registry, classifier.WithLogger(a.logger.Logger))

	var outcomes []classifyOutcome
	for _, name := range args {
		r, closeFn, err := openInput(cmd, name)
		if err != nil {
			return err
		}
		got, err := classifyStream(c, r, sourceName(name), opts.as)
		closeFn()
		if err != nil {
			return err
		}
		outcomes = append(outcomes, got...)
	}

	if err := a.printOutcomes(cmd.OutOrStdout(), outcomes); err != nil {
		return err
	}
	if opts.strict {
		for _, o := range outcomes {
			if o.Error != "" {
				return errClassifyFailed
			}
		}
	}
	return nil
}

func openInput(cmd *cobra.Command, name string) (io.Reader, func(), error) {
	if name == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func sourceName(name string) string {
	if name == "-" {
		return "stdin"
	}
	return name
}

// classifyStream decodes consecutive JSON values from r.
func classifyStream(c *classifier.Classifier, r io.Reader, source, as string) ([]classifyOutcome, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	var out []classifyOutcome
	for i := 1; ; i++ {
		var payload json.RawMessage
		if err := dec.Decode(&payload); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("%s: payload %d: %w", source, i, err)
		}
		out = append(out, classifyOne(c, payload, fmt.Sprintf("%s#%d", source, i), as))
	}
}

func classifyOne(c *classifier.Classifier, payload []byte, source, as string) classifyOutcome {
	outcome := classifyOutcome{Source: source}

	raw, err := event.ParseRaw(payload)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	var ev *event.Event
	if as != "" {
		ev, err = c.ClassifyAs(raw, as)
	} else {
		ev, err = c.Classify(raw)
	}
	if err != nil {
		outcome.Error = err.Error()
		outcome.Detail, _ = classifier.AsValidationError(err)
		return outcome
	}
	outcome.Result = pipeline.NewResult("", ev)
	return outcome
}

func (a *app) printOutcomes(w io.Writer, outcomes []classifyOutcome) error {
	if a.output == outputJSON {
		return writeJSON(w, outcomes)
	}

	t := newTable("SOURCE", "NAME", "SHAPE", "MATCH", "ERROR")
	for _, o := range outcomes {
		if o.Result == nil {
			t.addRow(o.Source, "", "", "", o.Error)
			continue
		}
		t.addRow(o.Source, o.Result.Name, o.Result.Shape, o.Result.Match, "")
	}
	t.render(w)
	return nil
}
