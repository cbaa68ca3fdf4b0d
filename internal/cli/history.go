package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/renew4me/internal/types"
)

func historyCmd(root *rootOptions) *cobra.Command {
	var limit int
	var summary bool

	c := &cobra.Command{
		Use:   "history",
		Short: "Show recent renewal runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(root)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if summary {
				counts, err := a.Summary()
				if err != nil {
					return err
				}
				last, err := a.LastSuccess()
				if err != nil {
					return err
				}
				printSummary(w, counts, last)
				return nil
			}

			runs, err := a.History(limit)
			if err != nil {
				return err
			}
			printHistory(w, runs)
			return nil
		},
	}

	c.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	c.Flags().BoolVar(&summary, "summary", false, "Show run counts per outcome instead")
	return c
}

func printHistory(w io.Writer, runs []types.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "(no runs recorded)")
		return
	}

	for _, r := range runs {
		detail := r.Matcher
		if r.Error != "" {
			detail = r.Error
		}
		fmt.Fprintf(w, "#%-4d %s  %-12s %8s  %s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Outcome,
			r.Duration().Round(time.Second),
			detail,
		)
	}
}

func printSummary(w io.Writer, counts map[types.Outcome]int, last *types.Run) {
	outcomes := make([]string, 0, len(counts))
	total := 0
	for o, n := range counts {
		outcomes = append(outcomes, string(o))
		total += n
	}
	sort.Strings(outcomes)

	for _, o := range outcomes {
		fmt.Fprintf(w, "%-12s %d\n", o, counts[types.Outcome(o)])
	}
	fmt.Fprintf(w, "%-12s %d\n", "total", total)

	if last != nil {
		fmt.Fprintf(w, "last success #%d at %s\n", last.ID, last.StartedAt.Local().Format(time.DateTime))
	}
}
