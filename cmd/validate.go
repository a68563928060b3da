package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// Personas, persona_dir and override patterns are only checked
			// when the gateway is built.
			if _, err := buildGateway(cfg, nil, logger); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration OK")
			for i, ep := range cfg.Route.Endpoints {
				fmt.Fprintf(out, "  endpoint %d: %s (%s)\n", i+1, ep.URL, ep.Kind)
			}
			fmt.Fprintf(out, "  storage: %s\n", cfg.Storage.Backend)
			printEnabled(out, "slack", cfg.Slack.Enabled)
			printEnabled(out, "discord", cfg.Discord.Enabled)
			printEnabled(out, "web", cfg.Web.Enabled)
			return nil
		},
	}
}

func printEnabled(w io.Writer, name string, enabled bool) {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(w, "  %s: %s\n", name, state)
}
