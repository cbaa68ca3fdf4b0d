package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/renew4me/internal/types"
)

type runOptions struct {
	format string
	strict bool
}

func runCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	c := &cobra.Command{
		Use:   "run",
		Short: "Log in and press the renew button once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, root, opts)
		},
	}

	c.Flags().StringVar(&opts.format, "format", "pretty", "Output format: pretty|json")
	c.Flags().BoolVar(&opts.strict, "strict", false, "Exit non-zero unless the renewal succeeded")
	return c
}

func runOnce(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	a, err := loadApp(root)
	if err != nil {
		return err
	}
	defer a.Close()

	run := a.RunOnce(cmd.Context())
	if err := printRun(cmd.OutOrStdout(), run, opts.format); err != nil {
		return err
	}

	if opts.strict && run.Outcome != types.OutcomeSuccess {
		return errors.Errorf("renewal ended with %s", run.Outcome)
	}
	return nil
}

func printRun(w io.Writer, run types.Run, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	case "pretty", "":
		printPrettyRun(w, run)
		return nil
	default:
		return fmt.Errorf("unsupported format %q (expected pretty|json)", format)
	}
}

func printPrettyRun(w io.Writer, run types.Run) {
	fmt.Fprintf(w, "Target:     %s\n", run.Target)
	fmt.Fprintf(w, "Outcome:    %s\n", run.Outcome)
	if !run.StartedAt.IsZero() {
		fmt.Fprintf(w, "Started:    %s\n", run.StartedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", run.Duration().Round(time.Millisecond))
	}
	if run.Matcher != "" {
		fmt.Fprintf(w, "Matcher:    %s\n", run.Matcher)
	}
	if run.Screenshot != "" {
		fmt.Fprintf(w, "Screenshot: %s\n", run.Screenshot)
	}
	if run.ID != 0 {
		fmt.Fprintf(w, "Run ID:     %d\n", run.ID)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, run.Message)
}
