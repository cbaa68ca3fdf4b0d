package cli

import (
	"github.com/spf13/cobra"
)

func scheduleCmd(root *rootOptions) *cobra.Command {
	var now bool

	c := &cobra.Command{
		Use:   "schedule",
		Short: "Renew on the configured cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(root)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Schedule(cmd.Context(), now)
		},
	}

	c.Flags().BoolVar(&now, "now", false, "Also run once immediately")
	return c
}
