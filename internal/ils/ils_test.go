package ils

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type statusOnly struct{}

func (statusOnly) SetConfig(Section) error    { return nil }
func (statusOnly) Init(context.Context) error { return nil }
func (statusOnly) GetStatus(context.Context, string) (Record, error) {
	return Record{"id": "1"}, nil
}

type patronOnly struct{}

func (patronOnly) SetConfig(Section) error    { return nil }
func (patronOnly) Init(context.Context) error { return nil }
func (patronOnly) PatronLogin(context.Context, string, string) (Record, error) {
	return nil, nil
}
func (patronOnly) GetMyTransactions(context.Context, Record) ([]Record, error) {
	return nil, nil
}

func TestCapabilitiesOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		conn any
		has  []Operation
		not  []Operation
	}{
		{
			name: "status reader also serves batch status",
			conn: statusOnly{},
			has:  []Operation{OpGetStatus, OpGetStatuses},
			not:  []Operation{OpPatronLogin, OpGetMyTransactions},
		},
		{
			name: "patron operations",
			conn: patronOnly{},
			has:  []Operation{OpPatronLogin, OpGetMyTransactions},
			not:  []Operation{OpGetStatus, OpGetStatuses, OpFindReserves},
		},
		{
			name: "nil connector declares nothing",
			conn: nil,
			not:  []Operation{OpGetStatus},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			caps := CapabilitiesOf(tt.conn)
			for _, op := range tt.has {
				if !caps.Has(op) {
					t.Fatalf("Has(%s) = false, want true", op)
				}
			}
			for _, op := range tt.not {
				if caps.Has(op) {
					t.Fatalf("Has(%s) = true, want false", op)
				}
			}
		})
	}
}

func TestParseOperation(t *testing.T) {
	t.Parallel()

	if op, ok := ParseOperation(" GETSTATUSES "); !ok || op != OpGetStatuses {
		t.Fatalf("ParseOperation() = %q, %v", op, ok)
	}
	if _, ok := ParseOperation("fail"); ok {
		t.Fatal("expected unknown operation")
	}
	if got := len(Operations()); got != len(capabilityChecks) {
		t.Fatalf("Operations() len = %d", got)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	noBackend := NoSuitableBackend(OpGetMyFines)
	if !errors.Is(noBackend, ErrNoSuitableBackend) {
		t.Fatal("expected ErrNoSuitableBackend in chain")
	}
	if !IsRecoverable(noBackend) {
		t.Fatal("resolution failures are recoverable")
	}
	if got := noBackend.Error(); got != "ils getMyFines: no suitable backend driver found" {
		t.Fatalf("Error() = %q", got)
	}

	io := errors.New("connection reset")
	fault := ConnectorError(OpGetMyFines, "d1", io)
	if IsRecoverable(fault) {
		t.Fatal("connector faults are not recoverable")
	}
	if !errors.Is(fault, io) {
		t.Fatal("expected wrapped connector error")
	}
	if kind, ok := KindOf(fmt.Errorf("outer: %w", fault)); !ok || kind != ErrorKindConnector {
		t.Fatalf("KindOf() = %q, %v", kind, ok)
	}
	if again := ConnectorError(OpGetMyFines, "d2", fault); again != fault {
		t.Fatal("expected catalog errors to pass through unchanged")
	}
	if ConnectorError(OpGetMyFines, "d1", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestSectionAccessors(t *testing.T) {
	t.Parallel()

	s := Section{
		"dsn":        "  file::memory: ",
		"iln":        int64(12),
		"timeout":    float64(3),
		"operations": []any{"getStatus", " getMyProfile"},
		"nested":     map[string]any{"k": "v"},
	}
	if got := s.String("dsn"); got != "file::memory:" {
		t.Fatalf("String() = %q", got)
	}
	if got := s.Int("iln", 0); got != 12 {
		t.Fatalf("Int(iln) = %d", got)
	}
	if got := s.Int("timeout", 0); got != 3 {
		t.Fatalf("Int(timeout) = %d", got)
	}
	if got := s.Int("missing", 7); got != 7 {
		t.Fatalf("Int(missing) = %d", got)
	}
	if got := s.Strings("operations"); len(got) != 2 || got[1] != "getMyProfile" {
		t.Fatalf("Strings() = %v", got)
	}
	if got := s.Sub("nested").String("k"); got != "v" {
		t.Fatalf("Sub() = %q", got)
	}
}
