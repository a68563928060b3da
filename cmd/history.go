package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ireland-samantha/zia-gateway/internal/storage"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <key>",
		Short: "Print the stored messages of a conversation",
		Long: `Print the newest stored messages of a conversation, oldest first.
The key is platform/channel or platform/user/chat, e.g. slack/C01ABC or web/alice/1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := storage.ParseKey(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := storage.New(cmd.Context(), cfg.Storage, storageLimits(cfg), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := store.Recent(cmd.Context(), key, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "no messages for %s\n", key)
				return nil
			}
			for _, m := range msgs {
				who := string(m.Role)
				if m.Author != "" {
					who += " (" + m.Author + ")"
				}
				fmt.Fprintf(out, "%s  %s: %s\n", m.Timestamp.Format(time.RFC3339), who, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of messages (default: memory.load_limit)")
	return cmd
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <key>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := storage.ParseKey(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := storage.New(cmd.Context(), cfg.Storage, storageLimits(cfg), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
			return nil
		},
	}
}
