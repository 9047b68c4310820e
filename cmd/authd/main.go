package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "authd",
		Short:         "authd - session and token lifecycle service",
		Long:          `authd issues, rotates and revokes access and refresh tokens and tracks sessions per device.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("AUTHD_CONFIG"), "Path to YAML config file (env AUTHD_CONFIG)")

	root.AddCommand(
		newServeCommand(&configPath),
		newMigrateCommand(&configPath),
		newSweepCommand(&configPath),
		newStatsCommand(&configPath),
	)
	return root
}
