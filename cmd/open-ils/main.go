package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/logging"
)

func main() {
	code := runMain(Execute, os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

func runMain(execute func() error, stderr io.Writer) int {
	if err := execute(); err != nil {
		return exitCodeForError(err, stderr)
	}
	return 0
}

func exitCodeForError(err error, stderr io.Writer) int {
	code, message, report := classifyExit(err)
	if report != nil {
		emitCommandError(report, message, code, stderr)
	}
	return code
}

// classifyExit returns the exit status for err, the log message and the
// error to report. report is nil for silent exits.
func classifyExit(err error) (code int, message string, report error) {
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		if ee.silent {
			return ee.code, "", nil
		}
		if ee.err != nil {
			return ee.code, "command failed", ee.err
		}
		return ee.code, "command failed", err
	case errors.Is(err, context.Canceled):
		return 130, "command canceled", err
	default:
		return 1, "command failed", err
	}
}

func emitCommandError(err error, message string, exitCode int, stderr io.Writer) {
	ctx := currentCommandExecutionContext()
	if !ctx.UsesStructuredLog {
		if exitCode == 130 {
			fmt.Fprintln(stderr, "canceled")
			return
		}
		fmt.Fprintf(stderr, "open-ils: %v\n", err)
		return
	}

	attrs := []any{"exit_code", exitCode, "error", err}
	if kind, ok := ils.KindOf(err); ok {
		attrs = append(attrs, "error_kind", string(kind))
	}
	loggerForFatalPath(ctx, stderr).Error(message, attrs...)
}

func loggerForFatalPath(ctx commandExecutionContext, stderr io.Writer) *slog.Logger {
	cfg, err := logging.LoadConfigFromEnv()
	if err != nil {
		cfg = logging.DefaultConfig()
	}
	return logging.NewLogger(cfg, stderr, ctx.CommandPath)
}
