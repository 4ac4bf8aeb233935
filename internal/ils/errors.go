package ils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSuitableBackend is reported when no backend could be determined for a
// call and no default backend is configured.
var ErrNoSuitableBackend = errors.New("no suitable backend driver found")

// ErrUnsupported is reported when the resolved backend does not implement the
// requested operation.
var ErrUnsupported = errors.New("operation not supported by backend")

type ErrorKind string

const (
	ErrorKindConfig      ErrorKind = "config"
	ErrorKindResolution  ErrorKind = "resolution"
	ErrorKindConnector   ErrorKind = "connector"
	ErrorKindUnsupported ErrorKind = "unsupported"
)

// Error is the single catalog-integration error type surfaced to callers.
type Error struct {
	Kind    ErrorKind
	Op      Operation
	Backend string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("ils")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(string(e.Op))
	}
	if e.Backend != "" {
		fmt.Fprintf(&b, " [%s]", e.Backend)
	}
	b.WriteString(": ")
	if e.Err == nil {
		b.WriteString(string(e.Kind))
	} else {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NoSuitableBackend builds the resolution error for op.
func NoSuitableBackend(op Operation) error {
	return &Error{Kind: ErrorKindResolution, Op: op, Err: ErrNoSuitableBackend}
}

// Unsupported builds the error for a backend lacking op.
func Unsupported(op Operation, backend string) error {
	return &Error{Kind: ErrorKindUnsupported, Op: op, Backend: backend, Err: ErrUnsupported}
}

// ConfigError wraps a configuration problem for backend.
func ConfigError(backend string, err error) error {
	return &Error{Kind: ErrorKindConfig, Backend: backend, Err: err}
}

// ConnectorError tags a failure raised by a backend connector. Errors that are
// already catalog-integration errors pass through unchanged.
func ConnectorError(op Operation, backend string, err error) error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return err
	}
	return &Error{Kind: ErrorKindConnector, Op: op, Backend: backend, Err: err}
}

// KindOf returns the kind of the first catalog-integration error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return "", false
}

// IsRecoverable reports whether the caller may present err as "unavailable"
// rather than as a backend fault.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrNoSuitableBackend) || errors.Is(err, ErrUnsupported)
}
