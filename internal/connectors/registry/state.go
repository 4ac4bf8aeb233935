package registry

import (
	"strings"

	"github.com/open-sspm/open-ils/internal/ils"
)

// Lifecycle is the connector lifecycle state of one backend.
type Lifecycle string

const (
	LifecycleUnregistered  Lifecycle = "unregistered"
	LifecycleUninitialized Lifecycle = "cached_uninitialized"
	LifecycleInitialized   Lifecycle = "cached_initialized"
)

// BackendState represents the runtime state of a backend.
type BackendState struct {
	Backend      Backend
	Definition   ConnectorDefinition // nil when the kind is not registered
	Capabilities ils.Capabilities
	Dynamic      bool
	IsDefault    bool
	Lifecycle    Lifecycle
}

// StatusLabel returns the human-readable status label.
func (s *BackendState) StatusLabel() string {
	if s.Definition == nil {
		return "Unknown connector type"
	}
	switch s.Lifecycle {
	case LifecycleInitialized:
		return "Ready"
	case LifecycleUninitialized:
		return "Configured"
	default:
		return "Idle"
	}
}

// DisplayName returns the connector type's display name, falling back to the kind.
func (s *BackendState) DisplayName() string {
	if s.Definition == nil {
		return s.Backend.Kind
	}
	if name := strings.TrimSpace(s.Definition.DisplayName()); name != "" {
		return name
	}
	return s.Backend.Kind
}

// CapabilitySummary lists the declared operations, or notes that they are only
// known once the connector is set up.
func (s *BackendState) CapabilitySummary() string {
	if s.Dynamic && s.Lifecycle != LifecycleInitialized {
		return "(determined at setup)"
	}
	ops := s.Capabilities.List()
	if len(ops) == 0 {
		return "—"
	}
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, string(op))
	}
	return strings.Join(names, ", ")
}

// BuildStates snapshots every backend against the registry. lifecycle reports
// the cache state of a backend name.
func BuildStates(reg *ConnectorRegistry, backends *Backends, lifecycle func(string) Lifecycle) []BackendState {
	def, hasDefault := backends.Default()
	states := make([]BackendState, 0, len(backends.Names()))
	for _, backend := range backends.All() {
		state := BackendState{
			Backend:   backend,
			IsDefault: hasDefault && def.Name == backend.Name,
			Lifecycle: LifecycleUnregistered,
		}
		if lifecycle != nil {
			state.Lifecycle = lifecycle(backend.Name)
		}
		if d, ok := reg.Get(backend.Kind); ok {
			state.Definition = d
			state.Capabilities, state.Dynamic, _ = reg.Capabilities(backend.Kind)
		}
		states = append(states, state)
	}
	return states
}
