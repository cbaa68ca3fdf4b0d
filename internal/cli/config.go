package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/renew4me/internal/config"
)

func configCmd(root *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Manage the renew4me config file",
	}

	c.AddCommand(configInitCmd(root), configShowCmd(root))
	return c
}

func configInitCmd(root *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := root.configPath
			if path == "" {
				p, err := config.ConfigPath()
				if err != nil {
					return err
				}
				path = p
			}

			if _, err := os.Stat(path); err == nil && !force {
				return errors.Errorf("%s already exists (use --force to overwrite)", path)
			}

			written, err := config.Default().Save(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", written)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func configShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (credentials are never shown)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			shown := *cfg
			shown.Telegram.Token = mask(shown.Telegram.Token)
			shown.Email.SMTPPass = mask(shown.Email.SMTPPass)
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(shown)
		},
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
