package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/open-sspm/open-ils/internal/ils"
)

// ConnectorRegistry is the central registry for all connector types.
type ConnectorRegistry struct {
	definitions map[string]registeredKind
	order       []string // Registration order
}

type registeredKind struct {
	def          ConnectorDefinition
	capabilities ils.Capabilities
	dynamic      bool
}

// NewRegistry creates a new connector registry.
func NewRegistry() *ConnectorRegistry {
	return &ConnectorRegistry{
		definitions: make(map[string]registeredKind),
		order:       make([]string, 0),
	}
}

// Register adds a connector definition to the registry. The definition's
// capability set is resolved once here from an unconfigured prototype.
func (r *ConnectorRegistry) Register(def ConnectorDefinition) error {
	if def == nil {
		return fmt.Errorf("connector definition cannot be nil")
	}
	kind := normalizeKind(def.Kind())
	if kind == "" {
		return fmt.Errorf("connector kind cannot be empty")
	}
	if _, exists := r.definitions[kind]; exists {
		return fmt.Errorf("connector kind %q already registered", kind)
	}
	proto := def.New(slog.New(slog.DiscardHandler))
	if proto == nil {
		return fmt.Errorf("connector kind %q returned a nil prototype", kind)
	}
	_, dynamic := proto.(ils.DynamicCapabilities)
	r.definitions[kind] = registeredKind{
		def:          def,
		capabilities: ils.CapabilitiesOf(proto),
		dynamic:      dynamic,
	}
	r.order = append(r.order, kind)
	return nil
}

// Get retrieves a connector definition by kind.
func (r *ConnectorRegistry) Get(kind string) (ConnectorDefinition, bool) {
	rk, ok := r.definitions[normalizeKind(kind)]
	if !ok {
		return nil, false
	}
	return rk.def, true
}

// Capabilities returns the statically declared operations of kind and whether
// the kind is opaque, meaning its real operation set is only known after setup.
func (r *ConnectorRegistry) Capabilities(kind string) (caps ils.Capabilities, dynamic bool, ok bool) {
	rk, ok := r.definitions[normalizeKind(kind)]
	if !ok {
		return nil, false, false
	}
	return rk.capabilities, rk.dynamic, true
}

// All returns all registered connector definitions in order.
func (r *ConnectorRegistry) All() []ConnectorDefinition {
	defs := make([]ConnectorDefinition, 0, len(r.order))
	for _, kind := range r.order {
		defs = append(defs, r.definitions[kind].def)
	}
	return defs
}

// Kinds returns the registered kinds in order.
func (r *ConnectorRegistry) Kinds() []string {
	return append([]string(nil), r.order...)
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
