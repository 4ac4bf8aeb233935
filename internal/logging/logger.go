// Package logging builds the process's structured logger from LOG_FORMAT and
// LOG_LEVEL and scopes it to backends and dispatched calls.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	// EnvFormat selects the handler: json (default) or text.
	EnvFormat = "LOG_FORMAT"
	// EnvLevel is the minimum level: debug, info (default), warn or error.
	EnvLevel = "LOG_LEVEL"

	appName  = "open-ils"
	redacted = "[redacted]"
)

// sensitiveKeys never reach a log sink with their value.
var sensitiveKeys = map[string]bool{
	"password":     true,
	"cat_password": true,
	"token":        true,
	"secret":       true,
}

// Config is the validated logging configuration derived from environment variables.
type Config struct {
	Format string
	Level  slog.Level
}

// BootstrapOptions controls logger initialization behavior.
type BootstrapOptions struct {
	Command string
	Writer  io.Writer
}

// DefaultConfig returns the default structured logging configuration.
func DefaultConfig() Config {
	return Config{Format: "json", Level: slog.LevelInfo}
}

// LoadConfigFromEnv reads EnvFormat and EnvLevel. Empty values keep the
// defaults; anything unrecognized is an error.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if raw := strings.ToLower(strings.TrimSpace(os.Getenv(EnvFormat))); raw != "" {
		if raw != "json" && raw != "text" {
			return Config{}, fmt.Errorf("%s must be one of: json, text", EnvFormat)
		}
		cfg.Format = raw
	}

	if raw := strings.TrimSpace(os.Getenv(EnvLevel)); raw != "" {
		switch strings.ToLower(raw) {
		case "debug", "info", "warn", "error":
		default:
			return Config{}, fmt.Errorf("%s must be one of: debug, info, warn, error", EnvLevel)
		}
		if err := cfg.Level.UnmarshalText([]byte(raw)); err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvLevel, err)
		}
	}
	return cfg, nil
}

// NewLogger returns a logger writing to writer (stdout when nil) that tags
// every record with the app and command and masks sensitive attributes.
func NewLogger(cfg Config, writer io.Writer, command string) *slog.Logger {
	if writer == nil {
		writer = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, ReplaceAttr: redact}

	var handler slog.Handler = slog.NewJSONHandler(writer, opts)
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "text") {
		handler = slog.NewTextHandler(writer, opts)
	}

	if command = strings.TrimSpace(command); command == "" {
		command = appName
	}
	return slog.New(handler).With("app", appName, "command", command)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redacted)
	}
	return a
}

// BootstrapFromEnv builds the logger from the environment and installs it as
// the slog default.
func BootstrapFromEnv(opts BootstrapOptions) (*slog.Logger, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg, opts.Writer, opts.Command)
	slog.SetDefault(logger)
	return logger, nil
}

// ForBackend scopes logger to one backend and its connector type.
func ForBackend(logger *slog.Logger, backend, connectorType string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("backend", backend, "connector_type", connectorType)
}

// ForCall scopes logger to a single dispatched operation.
func ForCall(logger *slog.Logger, callID, operation string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("call_id", callID, "operation", operation)
}
