package main

import (
	"sync"

	"github.com/spf13/cobra"

	"github.com/open-sspm/open-ils/internal/logging"
)

// structuredLogAnnotation marks commands whose diagnostics go through the
// structured logger rather than plain stderr lines.
const structuredLogAnnotation = "open-ils/structured-log"

type commandExecutionContext struct {
	CommandPath       string
	UsesStructuredLog bool
}

var (
	commandContextMu sync.RWMutex
	commandContext   commandExecutionContext
)

func setCommandExecutionContext(ctx commandExecutionContext) {
	commandContextMu.Lock()
	defer commandContextMu.Unlock()
	commandContext = ctx
}

func resetCommandExecutionContext() {
	setCommandExecutionContext(commandExecutionContext{})
}

func currentCommandExecutionContext() commandExecutionContext {
	commandContextMu.RLock()
	defer commandContextMu.RUnlock()
	return commandContext
}

func structuredLogging() map[string]string {
	return map[string]string{structuredLogAnnotation: "true"}
}

func commandUsesStructuredLogging(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[structuredLogAnnotation] == "true" {
			return true
		}
	}
	return false
}

// prepareCommand records the running command and, for commands that log,
// installs the structured logger as the process default.
func prepareCommand(cmd *cobra.Command, _ []string) error {
	uses := commandUsesStructuredLogging(cmd)
	setCommandExecutionContext(commandExecutionContext{
		CommandPath:       cmd.CommandPath(),
		UsesStructuredLog: uses,
	})
	if !uses {
		return nil
	}
	_, err := logging.BootstrapFromEnv(logging.BootstrapOptions{
		Command: cmd.CommandPath(),
		Writer:  cmd.ErrOrStderr(),
	})
	return err
}
