// Package multibackend routes catalog operations across several backend ILS
// connectors.
//
// Identifiers seen by callers are composite ("<backend>.<local>"). The
// dispatcher picks the backend from the identifier or the patron, strips the
// prefix before calling the connector and prefixes identifiers in the result,
// so connectors only ever see their own local identifiers.
package multibackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/open-sspm/open-ils/internal/connectors/registry"
	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/ils/ids"
	"github.com/open-sspm/open-ils/internal/logging"
	"github.com/open-sspm/open-ils/internal/metrics"
	"github.com/open-sspm/open-ils/internal/secrets"
)

const defaultBatchWorkers = 4

type Options struct {
	Registry     *registry.ConnectorRegistry
	Backends     *registry.Backends
	Sections     SectionSource
	Secrets      secrets.Resolver
	Delimiters   ids.Delimiters
	Logger       *slog.Logger
	BatchWorkers int
}

// Dispatcher is the multi-backend catalog. It is safe for concurrent use.
type Dispatcher struct {
	registry *registry.ConnectorRegistry
	backends *registry.Backends
	cache    *Cache
	codec    *ids.Codec
	logger   *slog.Logger
	workers  int
}

// New validates opts and returns a dispatcher. No connector is constructed
// until a call needs it.
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, ils.ConfigError("", errors.New("connector registry is required"))
	}
	if opts.Backends == nil {
		return nil, ils.ConfigError("", errors.New("backend table is required"))
	}
	delims := opts.Delimiters.Normalized()
	if err := delims.Validate(); err != nil {
		return nil, ils.ConfigError("", err)
	}
	if err := opts.Backends.Validate(opts.Registry); err != nil {
		return nil, ils.ConfigError("", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.BatchWorkers
	if workers < 1 {
		workers = defaultBatchWorkers
	}

	return &Dispatcher{
		registry: opts.Registry,
		backends: opts.Backends,
		cache:    NewCache(opts.Registry, opts.Backends, opts.Sections, opts.Secrets, logger),
		codec:    ids.NewCodec(delims),
		logger:   logger,
		workers:  workers,
	}, nil
}

// Backends returns the backend table the dispatcher routes over.
func (d *Dispatcher) Backends() *registry.Backends {
	return d.backends
}

// States snapshots every backend. Opaque connector types that completed setup
// report the operations they actually offer.
func (d *Dispatcher) States(ctx context.Context) []registry.BackendState {
	states := registry.BuildStates(d.registry, d.backends, d.cache.State)
	for i := range states {
		state := &states[i]
		if !state.Dynamic || state.Lifecycle != registry.LifecycleInitialized {
			continue
		}
		conn, err := d.cache.Uninitialized(ctx, state.Backend.Name)
		if err == nil && conn != nil {
			state.Capabilities = probedCapabilities(conn)
		}
	}
	return states
}

// Close releases every cached connector.
func (d *Dispatcher) Close() error {
	return d.cache.Close()
}

// call runs fn against the connector serving t when it implements C and
// allows op. It records the outcome and wraps connector failures.
func call[C, R any](ctx context.Context, d *Dispatcher, op ils.Operation, t Target, fn func(context.Context, C) (R, error)) (R, error) {
	var zero R
	start := time.Now()
	logger := logging.ForBackend(logging.ForCall(d.logger, uuid.NewString(), string(op)), t.Backend.Name, t.Backend.Kind)

	impl, err := connectorAs[C](ctx, d, op, t)
	if err != nil {
		d.observe(op, t.Backend.Name, outcomeOf(err), start)
		logger.Debug("backend unavailable", "err", err)
		return zero, err
	}
	res, err := fn(ctx, impl)
	if err != nil {
		d.observe(op, t.Backend.Name, metrics.OutcomeError, start)
		logger.Warn("backend call failed", "err", err)
		return zero, ils.ConnectorError(op, t.Backend.Name, err)
	}
	d.observe(op, t.Backend.Name, metrics.OutcomeOK, start)
	logger.Debug("backend call completed", "prefixed", t.Prefixed, "duration", time.Since(start))
	return res, nil
}

func connectorAs[C any](ctx context.Context, d *Dispatcher, op ils.Operation, t Target) (C, error) {
	var zero C
	conn, err := d.cache.Initialized(ctx, t.Backend.Name)
	if err != nil {
		return zero, withOp(err, op)
	}
	if conn == nil {
		return zero, ils.NoSuitableBackend(op)
	}
	impl, ok := conn.(C)
	if !ok || !allows(conn, op) {
		return zero, ils.Unsupported(op, t.Backend.Name)
	}
	return impl, nil
}

func withOp(err error, op ils.Operation) error {
	var ie *ils.Error
	if errors.As(err, &ie) && ie.Op == "" {
		copied := *ie
		copied.Op = op
		return &copied
	}
	return err
}

func outcomeOf(err error) string {
	if kind, _ := ils.KindOf(err); kind == ils.ErrorKindUnsupported {
		return metrics.OutcomeUnsupported
	}
	return metrics.OutcomeError
}

func (d *Dispatcher) observe(op ils.Operation, backend, outcome string, start time.Time) {
	metrics.DispatchTotal.WithLabelValues(backend, string(op), outcome).Inc()
	metrics.DispatchDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
}

// missed records a call that no backend could serve.
func (d *Dispatcher) missed(op ils.Operation) {
	metrics.DispatchTotal.WithLabelValues("", string(op), metrics.OutcomeUnresolved).Inc()
	d.logger.Debug("no backend resolved", "operation", op)
}

func (d *Dispatcher) unresolved(op ils.Operation) error {
	d.missed(op)
	return ils.NoSuitableBackend(op)
}

func (d *Dispatcher) stripID(t Target, id string) string {
	if !t.Prefixed {
		return id
	}
	return ids.StripAs(d.codec, id, t.Backend.Name)
}

func (d *Dispatcher) stripLogin(t Target, username string) string {
	if !t.Prefixed {
		return username
	}
	return ids.LocalID(username, d.codec.Delimiters().Login)
}

func (d *Dispatcher) stripRecord(t Target, rec ils.Record, fields ...string) ils.Record {
	if !t.Prefixed {
		return rec
	}
	return ids.StripAs(d.codec, rec, t.Backend.Name, fields...)
}

func (d *Dispatcher) addID(t Target, id string) string {
	if !t.Prefixed || id == "" {
		return id
	}
	return ids.AddAs(d.codec, id, t.Backend.Name)
}

func (d *Dispatcher) addRecord(t Target, rec ils.Record) ils.Record {
	if !t.Prefixed {
		return rec
	}
	return ids.AddAs(d.codec, rec, t.Backend.Name)
}

func (d *Dispatcher) addRecords(t Target, recs []ils.Record) []ils.Record {
	if recs == nil {
		return []ils.Record{}
	}
	if !t.Prefixed {
		return recs
	}
	return ids.AddAs(d.codec, recs, t.Backend.Name)
}

// Invoke calls op with loosely typed arguments, in the order of the typed
// method of the same name.
func (d *Dispatcher) Invoke(ctx context.Context, op ils.Operation, vals ...any) (any, error) {
	a := &args{op: op, vals: vals}
	switch op {
	case ils.OpGetStatus:
		id := a.str(0)
		return a.run(func() (any, error) { return d.GetStatus(ctx, id) })
	case ils.OpGetStatuses:
		list := a.strs(0)
		return a.run(func() (any, error) { return d.GetStatuses(ctx, list) })
	case ils.OpGetHolding:
		id, patron := a.str(0), a.optRecord(1)
		return a.run(func() (any, error) { return d.GetHolding(ctx, id, patron) })
	case ils.OpGetPurchaseHistory:
		id := a.str(0)
		return a.run(func() (any, error) { return d.GetPurchaseHistory(ctx, id) })
	case ils.OpPatronLogin:
		username, password := a.str(0), a.str(1)
		return a.run(func() (any, error) { return d.PatronLogin(ctx, username, password) })
	case ils.OpGetMyProfile:
		patron := a.record(0)
		return a.run(func() (any, error) { return d.GetMyProfile(ctx, patron) })
	case ils.OpGetMyTransactions:
		patron := a.record(0)
		return a.run(func() (any, error) { return d.GetMyTransactions(ctx, patron) })
	case ils.OpGetMyFines:
		patron := a.record(0)
		return a.run(func() (any, error) { return d.GetMyFines(ctx, patron) })
	case ils.OpGetMyHolds:
		patron := a.record(0)
		return a.run(func() (any, error) { return d.GetMyHolds(ctx, patron) })
	case ils.OpGetMyStorageRetrievalRequests:
		patron := a.record(0)
		return a.run(func() (any, error) { return d.GetMyStorageRetrievalRequests(ctx, patron) })
	case ils.OpGetMyILLRequests:
		patron := a.record(0)
		return a.run(func() (any, error) { return d.GetMyILLRequests(ctx, patron) })
	case ils.OpGetRenewDetails:
		checkout := a.record(0)
		return a.run(func() (any, error) { return d.GetRenewDetails(ctx, checkout) })
	case ils.OpRenewMyItems:
		details := a.record(0)
		return a.run(func() (any, error) { return d.RenewMyItems(ctx, details) })
	case ils.OpCheckRequestIsValid:
		id, data, patron := a.str(0), a.optRecord(1), a.record(2)
		return a.run(func() (any, error) { return d.CheckRequestIsValid(ctx, id, data, patron) })
	case ils.OpCheckStorageRetrievalRequestIsValid:
		id, data, patron := a.str(0), a.optRecord(1), a.record(2)
		return a.run(func() (any, error) { return d.CheckStorageRetrievalRequestIsValid(ctx, id, data, patron) })
	case ils.OpCheckILLRequestIsValid:
		id, data, patron := a.str(0), a.optRecord(1), a.record(2)
		return a.run(func() (any, error) { return d.CheckILLRequestIsValid(ctx, id, data, patron) })
	case ils.OpGetNewItems:
		page, limit, daysOld, fundID := a.num(0), a.num(1), a.num(2), a.optStr(3)
		return a.run(func() (any, error) { return d.GetNewItems(ctx, page, limit, daysOld, fundID) })
	case ils.OpFindReserves:
		course, inst, dept := a.optStr(0), a.optStr(1), a.optStr(2)
		return a.run(func() (any, error) { return d.FindReserves(ctx, course, inst, dept) })
	case ils.OpGetConfig:
		function, id := a.str(0), a.optStr(1)
		return a.run(func() (any, error) { return d.GetConfig(ctx, function, id) })
	case ils.OpPlaceHold:
		details := a.record(0)
		return a.run(func() (any, error) { return d.PlaceHold(ctx, details) })
	case ils.OpCancelHolds:
		details := a.record(0)
		return a.run(func() (any, error) { return d.CancelHolds(ctx, details) })
	case ils.OpGetPickUpLocations:
		patron, details := a.record(0), a.optRecord(1)
		return a.run(func() (any, error) { return d.GetPickUpLocations(ctx, patron, details) })
	case ils.OpGetDefaultPickUpLocation:
		patron, details := a.record(0), a.optRecord(1)
		return a.run(func() (any, error) { return d.GetDefaultPickUpLocation(ctx, patron, details) })
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}

// args converts Invoke arguments, remembering the first mismatch.
type args struct {
	op   ils.Operation
	vals []any
	err  error
}

func (a *args) run(fn func() (any, error)) (any, error) {
	if a.err != nil {
		return nil, a.err
	}
	return fn()
}

func (a *args) fail(i int, want string) {
	if a.err == nil {
		a.err = fmt.Errorf("%s: argument %d must be %s", a.op, i, want)
	}
}

func (a *args) get(i int, required bool, want string) (any, bool) {
	if i >= len(a.vals) || a.vals[i] == nil {
		if required {
			a.fail(i, want)
		}
		return nil, false
	}
	return a.vals[i], true
}

func (a *args) str(i int) string {
	v, ok := a.get(i, true, "a string")
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		a.fail(i, "a string")
	}
	return s
}

func (a *args) optStr(i int) string {
	v, ok := a.get(i, false, "a string")
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		a.fail(i, "a string")
	}
	return s
}

func (a *args) strs(i int) []string {
	v, ok := a.get(i, true, "a list of strings")
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				a.fail(i, "a list of strings")
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		a.fail(i, "a list of strings")
		return nil
	}
}

func (a *args) num(i int) int {
	v, ok := a.get(i, true, "an integer")
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			a.fail(i, "an integer")
		}
		return parsed
	default:
		a.fail(i, "an integer")
		return 0
	}
}

func (a *args) toRecord(i int, v any) ils.Record {
	switch rec := v.(type) {
	case ils.Record:
		return rec
	case map[string]any:
		return ils.Record(rec)
	default:
		a.fail(i, "a record")
		return nil
	}
}

func (a *args) record(i int) ils.Record {
	v, ok := a.get(i, true, "a record")
	if !ok {
		return nil
	}
	return a.toRecord(i, v)
}

func (a *args) optRecord(i int) ils.Record {
	v, ok := a.get(i, false, "a record")
	if !ok {
		return nil
	}
	return a.toRecord(i, v)
}
