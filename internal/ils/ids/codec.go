package ids

import (
	"strings"

	"github.com/open-sspm/open-ils/internal/ils"
)

// DefaultFields are the identifier-bearing field names transformed when the
// caller supplies no field set.
var DefaultFields = []string{FieldID, FieldCatUsername}

// Codec strips and adds backend prefixes over strings and nested records.
type Codec struct {
	delims Delimiters
	fields map[string]struct{}
}

// NewCodec returns a codec for the given delimiters. With no fields the
// DefaultFields set applies.
func NewCodec(delims Delimiters, fields ...string) *Codec {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	return &Codec{delims: delims.Normalized(), fields: fieldSet(fields)}
}

// Delimiters returns the codec's normalized delimiters.
func (c *Codec) Delimiters() Delimiters {
	return c.delims
}

// Source extracts the backend name carried by value when interpreted as field.
// It returns an empty string when value has no prefix.
func (c *Codec) Source(value, field string) string {
	id, ok := Parse(value, c.delims.For(field))
	if !ok {
		return ""
	}
	return id.Backend
}

// Strip removes the "<backend><delimiter>" prefix from value. A plain string is
// stripped directly; structured values are stripped at every recognized field,
// at any depth. Values without the prefix pass through unchanged.
func (c *Codec) Strip(value any, backend string, fields ...string) any {
	return c.walk(value, c.delims.Default, c.pick(fields), func(s, delim string) string {
		return stripPrefix(s, backend, delim)
	})
}

// Add is the inverse of Strip: it prefixes every recognized identifier with
// "<backend><delimiter>". Empty identifiers stay empty.
func (c *Codec) Add(value any, backend string, fields ...string) any {
	return c.walk(value, c.delims.Default, c.pick(fields), func(s, delim string) string {
		if s == "" {
			return s
		}
		return backend + delim + s
	})
}

// StripAs is Strip preserving the static type of value.
func StripAs[T any](c *Codec, value T, backend string, fields ...string) T {
	out, _ := c.Strip(value, backend, fields...).(T)
	return out
}

// AddAs is Add preserving the static type of value.
func AddAs[T any](c *Codec, value T, backend string, fields ...string) T {
	out, _ := c.Add(value, backend, fields...).(T)
	return out
}

func (c *Codec) pick(fields []string) map[string]struct{} {
	if len(fields) == 0 {
		return c.fields
	}
	return fieldSet(fields)
}

// walk copies value, applying fn to strings found at an identifier position.
// delim is the delimiter of the enclosing identifier position, or "" when
// strings at this level are not identifiers.
func (c *Codec) walk(value any, delim string, fields map[string]struct{}, fn func(s, delim string) string) any {
	switch v := value.(type) {
	case string:
		if delim == "" {
			return v
		}
		return fn(v, delim)
	case ils.Record:
		if len(v) == 0 {
			return v
		}
		return ils.Record(c.walkMap(v, fields, fn))
	case map[string]any:
		if len(v) == 0 {
			return v
		}
		return c.walkMap(v, fields, fn)
	case []ils.Record:
		if len(v) == 0 {
			return v
		}
		out := make([]ils.Record, len(v))
		for i, item := range v {
			if item == nil {
				continue
			}
			out[i] = ils.Record(c.walkMap(item, fields, fn))
		}
		return out
	case []map[string]any:
		if len(v) == 0 {
			return v
		}
		out := make([]map[string]any, len(v))
		for i, item := range v {
			if item == nil {
				continue
			}
			out[i] = c.walkMap(item, fields, fn)
		}
		return out
	case []any:
		if len(v) == 0 {
			return v
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = c.walk(item, delim, fields, fn)
		}
		return out
	case []string:
		if len(v) == 0 || delim == "" {
			return v
		}
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = fn(item, delim)
		}
		return out
	default:
		return value
	}
}

func (c *Codec) walkMap(m map[string]any, fields map[string]struct{}, fn func(s, delim string) string) map[string]any {
	out := make(map[string]any, len(m))
	for key, val := range m {
		delim := ""
		if _, ok := fields[key]; ok {
			delim = c.delims.For(key)
		}
		out[key] = c.walk(val, delim, fields, fn)
	}
	return out
}

func stripPrefix(s, backend, delim string) string {
	n := len(backend)
	if n == 0 || len(s) < n+len(delim) {
		return s
	}
	if !strings.EqualFold(s[:n], backend) || !strings.HasPrefix(s[n:], delim) {
		return s
	}
	return s[n+len(delim):]
}

func fieldSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
