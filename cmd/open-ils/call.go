package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/multibackend"
)

var callCmd = &cobra.Command{
	Use:   "call <operation> [arg]...",
	Short: "Invoke any catalog operation. JSON object and array arguments are decoded, the rest are passed as strings.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := parseOperationArg(args[0])
		if err != nil {
			return err
		}
		return withDispatcher(cmd, func(ctx context.Context, d *multibackend.Dispatcher) error {
			return runCall(ctx, d, cmd.OutOrStdout(), op, args[1:])
		})
	},
}

func init() {
	callCmd.Annotations = structuredLogging()
}

func runCall(ctx context.Context, d *multibackend.Dispatcher, out io.Writer, op ils.Operation, raw []string) error {
	vals := make([]any, 0, len(raw))
	for _, arg := range raw {
		vals = append(vals, decodeArg(arg))
	}
	res, err := d.Invoke(ctx, op, vals...)
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

// decodeArg decodes JSON objects and arrays. Anything else stays a string;
// numeric parameters accept numeric strings.
func decodeArg(arg string) any {
	if arg == "" || (arg[0] != '{' && arg[0] != '[') {
		return arg
	}
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}
