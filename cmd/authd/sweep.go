package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"authd/cmd/internal/app"
	"authd/cmd/internal/auth/session"
	"authd/cmd/internal/sweep"
)

// withApp loads config, builds the app without serving, and closes it after fn.
func withApp(configPath string, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg.Log, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	return fn(ctx, a)
}

func newSweepCommand(configPath *string) *cobra.Command {
	jobs := []string{
		session.JobExpiredTokens,
		session.JobInactiveSessions,
		session.JobRevokedPurge,
		sweep.JobTokenStats,
	}
	return &cobra.Command{
		Use:       "sweep <job>",
		Short:     "Run one maintenance job now",
		Long:      "Run one maintenance job synchronously. Jobs: " + strings.Join(jobs, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobs,
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, a *app.App) error {
				n, err := a.Scheduler().RunNow(ctx, args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(c.OutOrStdout(), "%s: %d\n", args[0], n)
				return nil
			})
		},
	}
}

func newStatsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print refresh-token and session counts as JSON",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withApp(*configPath, func(ctx context.Context, a *app.App) error {
				st, err := a.Service().TokenStats(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			})
		},
	}
}
