package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/open-sspm/open-ils/internal/multibackend"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the configured backends, their connector types and declared operations.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDispatcher(cmd, func(ctx context.Context, d *multibackend.Dispatcher) error {
			return writeBackends(cmd.OutOrStdout(), d.States(ctx))
		})
	},
}
