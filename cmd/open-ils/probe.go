package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/multibackend"
)

var probeAny bool

var probeCmd = &cobra.Command{
	Use:   "probe <operation> [id]",
	Short: "Report whether the backend serving id (or the default backend) supports an operation.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := parseOperationArg(args[0])
		if err != nil {
			return err
		}
		return withDispatcher(cmd, func(ctx context.Context, d *multibackend.Dispatcher) error {
			return runProbe(ctx, d, cmd.OutOrStdout(), op, args[1:], probeAny)
		})
	},
}

func init() {
	probeCmd.Flags().BoolVar(&probeAny, "any", false, "report whether any backend supports the operation")
	probeCmd.Annotations = structuredLogging()
}

func parseOperationArg(name string) (ils.Operation, error) {
	op, ok := ils.ParseOperation(name)
	if ok {
		return op, nil
	}
	names := make([]string, 0, len(ils.Operations()))
	for _, op := range ils.Operations() {
		names = append(names, string(op))
	}
	return "", fmt.Errorf("unknown operation %q (one of: %s)", name, strings.Join(names, ", "))
}

func runProbe(ctx context.Context, d *multibackend.Dispatcher, out io.Writer, op ils.Operation, ids []string, anyBackend bool) error {
	var supported bool
	if anyBackend {
		supported = d.SupportsAny(ctx, op)
	} else {
		params := make([]any, 0, len(ids))
		for _, id := range ids {
			params = append(params, id)
		}
		supported = d.Supports(ctx, op, params...)
	}
	return writeJSON(out, map[string]any{
		"operation": op,
		"supported": supported,
	})
}
