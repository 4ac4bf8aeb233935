package registry

import (
	"log/slog"

	"github.com/open-sspm/open-ils/internal/ils"
)

// ConnectorDefinition defines the behavior and metadata for a connector type.
type ConnectorDefinition interface {
	// Identity
	Kind() string        // e.g., "sql", "rest", "demo"
	DisplayName() string // e.g., "SQL catalog"

	// New returns a fresh, unconfigured connector instance. It must not
	// perform I/O; configuration and setup happen through the instance.
	New(logger *slog.Logger) ils.Connector
}
