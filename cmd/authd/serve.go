package main

import (
	"github.com/spf13/cobra"

	"authd/cmd/internal/app"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the maintenance scheduler",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run(*configPath)
		},
	}
}
