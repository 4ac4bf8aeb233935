package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-sspm/open-ils/internal/connectors/registry"
	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/ils/ids"
	"github.com/pelletier/go-toml/v2"
)

// MultiBackend is the decoded multi-backend configuration file.
type MultiBackend struct {
	DefaultDriver string                    `toml:"default_driver"`
	Delimiters    ids.Delimiters            `toml:"delimiters"`
	Drivers       map[string]string         `toml:"drivers"`
	Backends      map[string]map[string]any `toml:"backends"`
}

// LoadMultiBackend reads and validates the multi-backend file at path.
func LoadMultiBackend(path string) (MultiBackend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MultiBackend{}, fmt.Errorf("read multi-backend config: %w", err)
	}
	mb, err := ParseMultiBackend(data)
	if err != nil {
		return MultiBackend{}, fmt.Errorf("%s: %w", path, err)
	}
	return mb, nil
}

// ParseMultiBackend decodes and validates a multi-backend TOML document.
func ParseMultiBackend(data []byte) (MultiBackend, error) {
	var mb MultiBackend
	if err := toml.Unmarshal(data, &mb); err != nil {
		return MultiBackend{}, fmt.Errorf("decode multi-backend config: %w", err)
	}
	mb.Delimiters = mb.Delimiters.Normalized()
	if err := mb.Validate(); err != nil {
		return MultiBackend{}, err
	}
	return mb, nil
}

// Validate checks delimiters, the driver table and the default driver.
func (m MultiBackend) Validate() error {
	var errs []error
	if err := m.Delimiters.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(m.Drivers) == 0 {
		errs = append(errs, errors.New("no backends declared in [drivers]"))
	}
	if _, err := m.BuildBackends(); err != nil {
		errs = append(errs, err)
	}
	for name := range m.Backends {
		if _, ok := m.driverFor(name); !ok {
			errs = append(errs, fmt.Errorf("section [backends.%s] has no entry in [drivers]", name))
		}
	}
	return errors.Join(errs...)
}

// BuildBackends converts the driver table into the backend registry table.
func (m MultiBackend) BuildBackends() (*registry.Backends, error) {
	return registry.NewBackends(m.Drivers, m.DefaultDriver, m.Delimiters)
}

func (m MultiBackend) driverFor(name string) (string, bool) {
	want := registry.NormalizeBackendName(name)
	for declared, kind := range m.Drivers {
		if registry.NormalizeBackendName(declared) == want {
			return kind, true
		}
	}
	return "", false
}

// SectionLoader resolves the configuration section of a backend: the inline
// [backends.<name>] table first, then <dir>/<name>.toml. The file is looked
// up under the name as declared in [drivers] before its lower-cased form.
type SectionLoader struct {
	inline   map[string]map[string]any
	declared map[string]string
	dir      string
	logger   *slog.Logger
}

// NewSectionLoader returns a loader over mb's inline sections and dir.
func NewSectionLoader(mb MultiBackend, dir string, logger *slog.Logger) *SectionLoader {
	if logger == nil {
		logger = slog.Default()
	}
	inline := make(map[string]map[string]any, len(mb.Backends))
	for name, section := range mb.Backends {
		inline[registry.NormalizeBackendName(name)] = section
	}
	declared := make(map[string]string, len(mb.Drivers))
	for name := range mb.Drivers {
		declared[registry.NormalizeBackendName(name)] = strings.TrimSpace(name)
	}
	return &SectionLoader{inline: inline, declared: declared, dir: dir, logger: logger}
}

// Section returns the section for backend name. A section that is absent or
// cannot be read yields an empty section; a malformed file is an error.
func (l *SectionLoader) Section(name string) (ils.Section, error) {
	key := registry.NormalizeBackendName(name)
	if section, ok := l.inline[key]; ok {
		return ils.Section(section), nil
	}
	if l.dir == "" {
		return ils.Section{}, nil
	}

	for _, candidate := range l.fileNames(name, key) {
		path := filepath.Join(l.dir, candidate+".toml")
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.logger.Debug("backend section not found", "backend", key, "path", path)
			} else {
				l.logger.Debug("backend section unreadable", "backend", key, "path", path, "err", err)
			}
			continue
		}

		section := ils.Section{}
		if err := toml.Unmarshal(data, &section); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return section, nil
	}
	return ils.Section{}, nil
}

// fileNames lists the distinct base names tried for a backend section.
func (l *SectionLoader) fileNames(requested, key string) []string {
	var names []string
	seen := make(map[string]bool, 3)
	for _, candidate := range []string{l.declared[key], strings.TrimSpace(requested), key} {
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true
		names = append(names, candidate)
	}
	return names
}
