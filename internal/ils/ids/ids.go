// Package ids encodes and decodes composite catalog identifiers of the form
// "<backend><delimiter><local-id>".
//
// Only the first delimiter occurrence splits a composite identifier, so local
// identifiers may themselves contain the delimiter. Backend names may not.
package ids

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultDelimiter separates the backend name from ordinary identifiers.
	DefaultDelimiter = "."

	FieldID          = "id"
	FieldCatUsername = "cat_username"
)

// Delimiters holds the delimiter per identifier family. Login credentials get
// their own delimiter because local usernames may legitimately contain the
// default one.
type Delimiters struct {
	Default string `toml:"default"`
	Login   string `toml:"login"`
}

// DefaultDelimiters returns "." for both families.
func DefaultDelimiters() Delimiters {
	return Delimiters{Default: DefaultDelimiter, Login: DefaultDelimiter}
}

// Normalized fills unset delimiters with the default.
func (d Delimiters) Normalized() Delimiters {
	out := d
	if out.Default == "" {
		out.Default = DefaultDelimiter
	}
	if out.Login == "" {
		out.Login = DefaultDelimiter
	}
	return out
}

// Validate rejects delimiters that could not split an identifier.
func (d Delimiters) Validate() error {
	d = d.Normalized()
	for name, delim := range map[string]string{"default": d.Default, "login": d.Login} {
		if strings.TrimSpace(delim) == "" && delim != "\t" {
			return fmt.Errorf("%s delimiter must not be whitespace", name)
		}
	}
	return nil
}

// For returns the delimiter used for field.
func (d Delimiters) For(field string) string {
	d = d.Normalized()
	if field == FieldCatUsername {
		return d.Login
	}
	return d.Default
}

// CheckBackendName rejects backend names that would collide with a delimiter.
func (d Delimiters) CheckBackendName(name string) error {
	d = d.Normalized()
	if strings.TrimSpace(name) == "" {
		return errors.New("backend name cannot be empty")
	}
	for _, delim := range []string{d.Default, d.Login} {
		if strings.Contains(name, delim) {
			return fmt.Errorf("backend name %q contains delimiter %q", name, delim)
		}
	}
	return nil
}

// CompositeID is a backend name paired with a backend-local identifier.
type CompositeID struct {
	Backend   string
	Local     string
	Delimiter string
}

// Parse splits s on the first occurrence of delim. It reports false when s
// carries no delimiter or the backend part is empty.
func Parse(s, delim string) (CompositeID, bool) {
	if delim == "" {
		delim = DefaultDelimiter
	}
	pos := strings.Index(s, delim)
	if pos <= 0 {
		return CompositeID{}, false
	}
	return CompositeID{
		Backend:   s[:pos],
		Local:     s[pos+len(delim):],
		Delimiter: delim,
	}, true
}

// New builds a composite identifier.
func New(backend, local, delim string) CompositeID {
	if delim == "" {
		delim = DefaultDelimiter
	}
	return CompositeID{Backend: backend, Local: local, Delimiter: delim}
}

func (c CompositeID) String() string {
	delim := c.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}
	return c.Backend + delim + c.Local
}

// LocalID returns the local part of value, or value itself when it carries no
// backend prefix.
func LocalID(value, delim string) string {
	if id, ok := Parse(value, delim); ok {
		return id.Local
	}
	return value
}
