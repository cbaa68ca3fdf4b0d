package cli

import (
	"github.com/spf13/cobra"
)

func openCmd(root *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "open",
		Short: "Open renew4me files in the desktop handler",
	}

	c.AddCommand(
		&cobra.Command{
			Use:   "config",
			Short: "Open the config file, creating it with defaults if missing",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				a, err := loadApp(root)
				if err != nil {
					return err
				}
				defer a.Close()
				return a.ViewConfig()
			},
		},
		&cobra.Command{
			Use:     "screenshots",
			Aliases: []string{"screenshot"},
			Short:   "Open the newest failure screenshot",
			Args:    cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				a, err := loadApp(root)
				if err != nil {
					return err
				}
				defer a.Close()
				return a.ViewLatestScreenshot()
			},
		},
	)
	return c
}
