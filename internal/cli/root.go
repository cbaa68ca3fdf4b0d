package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/renew4me/internal/app"
	"github.com/ibeckermayer/renew4me/internal/config"
	"github.com/ibeckermayer/renew4me/internal/logging"
)

// Execute runs the command line until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	run := &runOptions{format: "pretty"}

	cmd := &cobra.Command{
		Use:          "renew4me",
		Short:        "renew4me - keep a game server alive by pressing its renew button",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, opts, run)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: <user config dir>/renew4me/config.toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: trace|debug|info|warn|error (overrides config)")

	cmd.AddCommand(
		runCmd(opts),
		scheduleCmd(opts),
		historyCmd(opts),
		openCmd(opts),
		configCmd(opts),
	)
	return cmd
}

// loadConfig resolves configuration from the env file, the config file and
// the environment, then applies the log level.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.envFile != "" {
		if err := config.LoadEnvFiles(opts.envFile); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := logging.Set(
		logging.Level(cfg.Log.Level),
		logging.Format(cfg.Log.Format),
		logging.Redact(cfg.Secrets()...),
	); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadApp(opts *rootOptions) (*app.App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return app.Open(cfg, opts.configPath), nil
}
