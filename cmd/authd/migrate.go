package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"authd/cmd/internal/app"
	"authd/cmd/internal/storage"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
	}
	cmd.PersistentFlags().StringVar(&dsn, "database-url", "", "Postgres URL (default: AUTHD_DATABASE_URL)")

	resolve := func() (string, error) {
		if dsn != "" {
			return dsn, nil
		}
		db, err := app.LoadDBConfig(*configPath)
		if err != nil {
			return "", err
		}
		return db.URL, nil
	}

	run := func(dir storage.Direction) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, _ []string) error {
			url, err := resolve()
			if err != nil {
				return err
			}
			if err := storage.Migrate(url, dir); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.OutOrStdout(), "migrate %s: ok\n", dir)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  run(storage.Up),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE:  run(storage.Down),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				url, err := resolve()
				if err != nil {
					return err
				}
				v, dirty, err := storage.Version(url)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(c.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
				return nil
			},
		},
	)
	return cmd
}
