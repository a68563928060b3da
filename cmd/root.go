// Package cmd implements the zia command line.
package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ireland-samantha/zia-gateway/internal/config"
	"github.com/ireland-samantha/zia-gateway/internal/logging"
	"github.com/ireland-samantha/zia-gateway/internal/storage"
)

var cfgFile string

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zia",
		Short: "ZIA - conversation gateway for Slack, Discord and the web",
		Long: `ZIA relays chat messages from Slack, Discord and a browser chat API to
AI chat endpoints, adding a persona and recent history to every request and
storing each exchange.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config/zia.yaml)")
	flags.String("log-level", "", "log level (debug/info/warn/error)")
	flags.String("log-format", "", "log format (text/json)")

	root.AddCommand(newServeCmd(), newValidateCmd(), newHistoryCmd(), newResetCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// loadConfig reads the configuration with flags layered on top and builds
// the process logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile,
		bindFlag(cmd, "log.level", "log-level"),
		bindFlag(cmd, "log.format", "log-format"),
	)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	return cfg, logger, nil
}

// bindFlag binds a flag only when the user set it, so an empty flag default
// does not hide the config file or environment.
func bindFlag(cmd *cobra.Command, key, name string) config.Option {
	return func(v *viper.Viper) error {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			return nil
		}
		return v.BindPFlag(key, f)
	}
}

func storageLimits(cfg *config.Config) storage.Limits {
	return storage.Limits{
		LogLimit:  cfg.Memory.LogLimit,
		LoadLimit: cfg.Memory.LoadLimit,
	}
}
