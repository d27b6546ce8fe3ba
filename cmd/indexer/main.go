package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mcnoble1/Medisphere-sub001/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "indexer",
		Short:         "Medisphere ledger indexer",
		Long:          "Indexes medical record events from ledger topics and keeps daily statistics.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCommand())
	root.AddCommand(syncCommand())
	root.AddCommand(statsCommand())
	root.AddCommand(statusCommand())
	root.AddCommand(directoryCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withApp loads configuration, opens the app and runs fn with a context
// cancelled on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func loadConfig() (cfg *config.Config, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("config: %v", r)
		}
	}()
	return config.Load(), nil
}

func syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Backfill every configured topic once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.engine.InitializeState(ctx); err != nil {
					return err
				}
				return a.engine.SyncAll(ctx)
			})
		},
	}
}

func statsCommand() *cobra.Command {
	statsCmd := &cobra.Command{Use: "stats", Short: "Statistics commands"}

	todayCmd := &cobra.Command{
		Use:   "today",
		Short: "Recompute today's snapshot and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.stats.CalculateDailyStats(ctx)
				if err != nil {
					return err
				}
				return printJSON(snap)
			})
		},
	}

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate missing snapshots for past days",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			return withApp(func(ctx context.Context, a *app) error {
				n, err := a.stats.GenerateHistoricalStats(ctx, days)
				if err != nil {
					return err
				}
				fmt.Printf("inserted %d snapshots\n", n)
				return nil
			})
		},
	}
	backfillCmd.Flags().Int("days", 30, "Number of past days to fill in")

	statsCmd.AddCommand(todayCmd, backfillCmd)
	return statsCmd
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the cursor state of every configured topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				st, err := a.engine.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}
}

func directoryCommand() *cobra.Command {
	dirCmd := &cobra.Command{Use: "directory", Short: "Patient and provider directory commands"}

	addCmd := &cobra.Command{
		Use:   "add <patient|provider> <ref> <id>",
		Short: "Map a payload reference to a directory id",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ref, id := args[0], args[1], args[2]
			if kind != "patient" && kind != "provider" {
				return fmt.Errorf("unknown directory %q, want patient or provider", kind)
			}
			return withApp(func(ctx context.Context, a *app) error {
				if a.redis == nil {
					return fmt.Errorf("the directory needs REDIS_URL")
				}
				if kind == "patient" {
					return a.redis.RegisterPatient(ctx, ref, id)
				}
				return a.redis.RegisterProvider(ctx, ref, id)
			})
		},
	}

	dirCmd.AddCommand(addCmd)
	return dirCmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
