package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-sspm/open-ils/internal/ils/ids"
)

// Backend binds one catalog instance to the connector kind that serves it.
// Several backends may share a kind with different configuration.
type Backend struct {
	Name string
	Kind string
}

// Backends is the static backend-name to connector-kind table. Names are
// matched case-insensitively and stored lower-cased.
type Backends struct {
	byName      map[string]Backend
	names       []string
	defaultName string
}

// NewBackends validates drivers (backend name -> connector kind) and the
// optional default backend.
func NewBackends(drivers map[string]string, defaultName string, delims ids.Delimiters) (*Backends, error) {
	b := &Backends{byName: make(map[string]Backend, len(drivers))}

	var errs []error
	for rawName, rawKind := range drivers {
		name := NormalizeBackendName(rawName)
		kind := normalizeKind(rawKind)
		if err := delims.CheckBackendName(name); err != nil {
			errs = append(errs, err)
			continue
		}
		if kind == "" {
			errs = append(errs, fmt.Errorf("backend %q has no connector type", name))
			continue
		}
		if _, dup := b.byName[name]; dup {
			errs = append(errs, fmt.Errorf("backend %q declared more than once", name))
			continue
		}
		b.byName[name] = Backend{Name: name, Kind: kind}
		b.names = append(b.names, name)
	}
	sort.Strings(b.names)

	if def := NormalizeBackendName(defaultName); def != "" {
		if _, ok := b.byName[def]; !ok {
			errs = append(errs, fmt.Errorf("default backend %q is not declared", def))
		} else {
			b.defaultName = def
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return b, nil
}

// Lookup returns the backend registered under name.
func (b *Backends) Lookup(name string) (Backend, bool) {
	if b == nil {
		return Backend{}, false
	}
	backend, ok := b.byName[NormalizeBackendName(name)]
	return backend, ok
}

// Default returns the configured default backend, if any.
func (b *Backends) Default() (Backend, bool) {
	if b == nil || b.defaultName == "" {
		return Backend{}, false
	}
	return b.byName[b.defaultName], true
}

// SetDefault changes the default backend; an empty name clears it.
func (b *Backends) SetDefault(name string) error {
	name = NormalizeBackendName(name)
	if name == "" {
		b.defaultName = ""
		return nil
	}
	if _, ok := b.byName[name]; !ok {
		return fmt.Errorf("default backend %q is not declared", name)
	}
	b.defaultName = name
	return nil
}

// Names returns the backend names in sorted order.
func (b *Backends) Names() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.names...)
}

// All returns every backend in name order.
func (b *Backends) All() []Backend {
	if b == nil {
		return nil
	}
	out := make([]Backend, 0, len(b.names))
	for _, name := range b.names {
		out = append(out, b.byName[name])
	}
	return out
}

// Validate reports every backend whose connector kind is not registered.
func (b *Backends) Validate(reg *ConnectorRegistry) error {
	if reg == nil {
		return errors.New("connector registry is nil")
	}
	var errs []error
	for _, backend := range b.All() {
		if _, ok := reg.Get(backend.Kind); !ok {
			errs = append(errs, fmt.Errorf("backend %q uses unknown connector type %q", backend.Name, backend.Kind))
		}
	}
	return errors.Join(errs...)
}

// NormalizeBackendName canonicalizes a backend name for lookups.
func NormalizeBackendName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
