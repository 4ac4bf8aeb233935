package multibackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/open-sspm/open-ils/internal/connectors/registry"
	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/logging"
	"github.com/open-sspm/open-ils/internal/metrics"
	"github.com/open-sspm/open-ils/internal/secrets"
)

// SectionSource supplies the configuration section of a backend.
type SectionSource interface {
	Section(name string) (ils.Section, error)
}

type emptySections struct{}

func (emptySections) Section(string) (ils.Section, error) { return ils.Section{}, nil }

// entry holds one backend's connector. mu serializes construction and setup
// of that backend only; lifecycle is readable without it.
type entry struct {
	mu          sync.Mutex
	conn        ils.Connector
	initialized bool
	lifecycle   atomic.Value // registry.Lifecycle
}

func (e *entry) state() registry.Lifecycle {
	if v, ok := e.lifecycle.Load().(registry.Lifecycle); ok {
		return v
	}
	return registry.LifecycleUnregistered
}

// Cache constructs, configures and initializes connectors on demand, at most
// once per backend, and hands out the same instance afterwards.
type Cache struct {
	registry *registry.ConnectorRegistry
	backends *registry.Backends
	sections SectionSource
	secrets  secrets.Resolver
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache returns an empty cache. sections and resolver may be nil.
func NewCache(reg *registry.ConnectorRegistry, backends *registry.Backends, sections SectionSource, resolver secrets.Resolver, logger *slog.Logger) *Cache {
	if sections == nil {
		sections = emptySections{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		registry: reg,
		backends: backends,
		sections: sections,
		secrets:  resolver,
		logger:   logger,
		entries:  make(map[string]*entry),
	}
}

// Uninitialized returns the configured but not necessarily initialized
// connector for name. It returns nil and no error when name is not a declared
// backend of a registered connector type.
func (c *Cache) Uninitialized(ctx context.Context, name string) (ils.Connector, error) {
	backend, def, ok := c.lookup(name)
	if !ok {
		return nil, nil
	}
	e := c.entry(backend.Name)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := c.construct(ctx, e, backend, def); err != nil {
		return nil, err
	}
	return e.conn, nil
}

// Initialized returns the connector for name after running its one-time
// setup. A failed setup leaves the connector uninitialized so a later call
// retries it.
func (c *Cache) Initialized(ctx context.Context, name string) (ils.Connector, error) {
	backend, def, ok := c.lookup(name)
	if !ok {
		return nil, nil
	}
	e := c.entry(backend.Name)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := c.construct(ctx, e, backend, def); err != nil {
		return nil, err
	}
	if e.initialized {
		return e.conn, nil
	}

	logger := logging.ForBackend(c.logger, backend.Name, backend.Kind)
	if err := e.conn.Init(ctx); err != nil {
		metrics.ConnectorSetupTotal.WithLabelValues(backend.Name, backend.Kind, "init_error").Inc()
		logger.Error("connector setup failed", "err", err)
		return nil, &ils.Error{Kind: ils.ErrorKindConnector, Backend: backend.Name, Err: fmt.Errorf("initialize connector: %w", err)}
	}
	e.initialized = true
	e.lifecycle.Store(registry.LifecycleInitialized)
	metrics.ConnectorSetupTotal.WithLabelValues(backend.Name, backend.Kind, "initialized").Inc()
	metrics.ConnectorsInitialized.Inc()
	logger.Info("connector initialized")
	return e.conn, nil
}

// State reports the lifecycle state of name without blocking on setup.
func (c *Cache) State(name string) registry.Lifecycle {
	c.mu.Lock()
	e, ok := c.entries[registry.NormalizeBackendName(name)]
	c.mu.Unlock()
	if !ok {
		return registry.LifecycleUnregistered
	}
	return e.state()
}

// Close closes every cached connector that implements io.Closer and empties
// the cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	var errs []error
	for name, e := range entries {
		e.mu.Lock()
		if e.initialized {
			metrics.ConnectorsInitialized.Dec()
		}
		if closer, ok := e.conn.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close backend %q: %w", name, err))
			}
		}
		e.conn = nil
		e.initialized = false
		e.lifecycle.Store(registry.LifecycleUnregistered)
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (c *Cache) lookup(name string) (registry.Backend, registry.ConnectorDefinition, bool) {
	backend, ok := c.backends.Lookup(name)
	if !ok {
		return registry.Backend{}, nil, false
	}
	def, ok := c.registry.Get(backend.Kind)
	if !ok {
		return registry.Backend{}, nil, false
	}
	return backend, def, true
}

func (c *Cache) entry(name string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		e = &entry{}
		c.entries[name] = e
	}
	return e
}

// construct builds and configures e's connector. Callers hold e.mu.
func (c *Cache) construct(ctx context.Context, e *entry, backend registry.Backend, def registry.ConnectorDefinition) error {
	if e.conn != nil {
		return nil
	}
	logger := logging.ForBackend(c.logger, backend.Name, backend.Kind)

	section, err := c.sections.Section(backend.Name)
	if err == nil && c.secrets != nil {
		section, err = c.secrets.Resolve(ctx, section)
	}
	if err != nil {
		metrics.ConnectorSetupTotal.WithLabelValues(backend.Name, backend.Kind, "config_error").Inc()
		logger.Error("connector configuration unavailable", "err", err)
		return ils.ConfigError(backend.Name, err)
	}

	conn := def.New(logger)
	if conn == nil {
		return ils.ConfigError(backend.Name, fmt.Errorf("connector type %q returned no connector", backend.Kind))
	}
	if err := conn.SetConfig(section); err != nil {
		metrics.ConnectorSetupTotal.WithLabelValues(backend.Name, backend.Kind, "config_error").Inc()
		logger.Error("connector configuration rejected", "err", err)
		return ils.ConfigError(backend.Name, err)
	}

	e.conn = conn
	e.lifecycle.Store(registry.LifecycleUninitialized)
	metrics.ConnectorSetupTotal.WithLabelValues(backend.Name, backend.Kind, "configured").Inc()
	logger.Info("connector configured")
	return nil
}
