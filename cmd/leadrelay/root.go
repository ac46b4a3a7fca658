package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeventeLantos/lead-relay/internal/config"
	"github.com/LeventeLantos/lead-relay/internal/logging"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "leadrelay",
		Short:        "Relay form leads to WhatsApp with a durable retry queue",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newDrainCmd(),
		newStatsCmd(),
		newPurgeCmd(),
	)
	return cmd
}

// bootstrap loads configuration, installs logging and wires the app.
func bootstrap(ctx context.Context, errOut io.Writer) (*app, error) {
	cfg, err := config.LoadAll()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, errOut)

	return newApp(ctx, cfg)
}

func newDrainCmd() *cobra.Command {
	var maxMessages int

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Make one delivery attempt for up to --max queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if maxMessages <= 0 {
				maxMessages = a.cfg.Drain.BatchSize
			}

			start := time.Now()
			res, err := a.dispatcher.ProcessQueue(cmd.Context(), maxMessages)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"command":     "drain",
				"duration_ms": time.Since(start).Milliseconds(),
				"result":      res,
			})
		},
	}

	cmd.Flags().IntVar(&maxMessages, "max", 0, "Maximum messages to attempt (default DRAIN_BATCH_SIZE)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print queue counts and gateway availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			return writeJSON(cmd.OutOrStdout(), a.dispatcher.QueueStatus(cmd.Context()))
		},
	}
}

func newPurgeCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete sent messages older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("days") {
				days = a.cfg.Drain.PurgeAfterDays
			}

			n, err := a.store.PurgeSent(cmd.Context(), days)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"command": "purge", "days": days, "deleted": n})
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Retention in days for sent messages (default PURGE_AFTER_DAYS)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
