package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wilhg/statehub/pkg/config"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "statehub",
		Short: "Inspect and replay statehub stores",
		Long: `statehub runs a todo store behind an HTTP inspector and replays
captured action sequences against it.

Configuration is read from a YAML file, then from STATEHUB_* environment
variables (a .env file in the working directory is loaded first).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", getEnv("STATEHUB_CONFIG", ""), "config file path")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "log at debug level")

	cmd.AddCommand(
		newServeCmd(opts),
		newReplayCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load resolves the configuration and builds the logger.
func (o *rootOptions) load(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, nil, err
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := cfg.NewLogger(logOut)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
