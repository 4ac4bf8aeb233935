// Package ils defines the uniform catalog operation surface shared by the
// multi-backend dispatcher and every backend connector.
//
// A connector operates purely on backend-local identifiers. Composite
// identifiers ("<backend>.<local>") never reach it.
package ils

import (
	"context"
	"maps"
	"strings"
)

// Record is a loosely typed catalog record: a patron, an item status, a loan,
// a hold or a fine.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// String returns the value at key when it holds a string.
func (r Record) String(key string) string {
	if r == nil {
		return ""
	}
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Record returns the nested record at key, accepting both Record and plain maps.
func (r Record) Record(key string) Record {
	if r == nil {
		return nil
	}
	switch v := r[key].(type) {
	case Record:
		return v
	case map[string]any:
		return Record(v)
	default:
		return nil
	}
}

// Section is the verbatim configuration slice handed to one backend connector.
type Section map[string]any

// String returns a trimmed string setting or an empty string.
func (s Section) String(key string) string {
	if s == nil {
		return ""
	}
	if v, ok := s[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Int returns an integer setting, tolerating the numeric types TOML and JSON decode into.
func (s Section) Int(key string, def int) int {
	if s == nil {
		return def
	}
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Strings returns a list-of-strings setting.
func (s Section) Strings(key string) []string {
	if s == nil {
		return nil
	}
	switch v := s[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, strings.TrimSpace(str))
			}
		}
		return out
	default:
		return nil
	}
}

// Sub returns a nested table.
func (s Section) Sub(key string) Section {
	if s == nil {
		return nil
	}
	switch v := s[key].(type) {
	case Section:
		return v
	case map[string]any:
		return Section(v)
	default:
		return nil
	}
}

// Connector is the contract every backend connector type satisfies. Catalog
// operations are declared separately through the single-method interfaces in
// capabilities.go.
type Connector interface {
	// SetConfig applies the backend's configuration section. It must not
	// perform I/O.
	SetConfig(Section) error
	// Init runs one-time setup (open database handles, authenticate, probe).
	Init(context.Context) error
}

// DynamicCapabilities is implemented by connector types whose operation set
// is only known after configuration and setup.
type DynamicCapabilities interface {
	SupportsOperation(Operation) bool
}
