package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/remote-agent-terminal/dashsync/internal/config"
	"github.com/remote-agent-terminal/dashsync/internal/logging"
)

// options is shared by every subcommand. Flags are bound to keys of v so
// they take precedence over env and file values.
type options struct {
	configPath string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &options{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "dashsync",
		Short:         "Realtime session client for agent dashboards",
		Long:          "dashsync holds a resilient websocket session to an agent backend, keeps agent, telemetry and task state in memory, and serves it to dashboards over HTTP and a browser stream.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (yaml, toml or json)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json, color")
	cobra.CheckErr(opts.v.BindPFlag("logging.level", flags.Lookup("log-level")))
	cobra.CheckErr(opts.v.BindPFlag("logging.format", flags.Lookup("log-format")))

	rootCmd.AddCommand(
		newRunCmd(opts),
		newFakeBackendCmd(opts),
		newReplayCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// load reads the configuration and builds the root logger.
func (o *options) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.v, o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging)
	return cfg, logger, nil
}
