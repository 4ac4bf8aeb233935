package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/open-sspm/open-ils/internal/multibackend"
)

var statusCmd = &cobra.Command{
	Use:   "status <id>...",
	Short: "Look up the availability of one or more records by composite id.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDispatcher(cmd, func(ctx context.Context, d *multibackend.Dispatcher) error {
			return runStatus(ctx, d, cmd.OutOrStdout(), args)
		})
	},
}

func init() {
	statusCmd.Annotations = structuredLogging()
}

// runStatus fetches a single id directly, so its failure is reported, and
// several ids as one batch.
func runStatus(ctx context.Context, d *multibackend.Dispatcher, out io.Writer, ids []string) error {
	if len(ids) == 1 {
		rec, err := d.GetStatus(ctx, ids[0])
		if err != nil {
			return err
		}
		return writeJSON(out, rec)
	}
	recs, err := d.GetStatuses(ctx, ids)
	if err != nil {
		return err
	}
	return writeJSON(out, recs)
}
