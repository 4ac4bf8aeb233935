package multibackend

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/open-sspm/open-ils/internal/connectors/registry"
	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/ils/ids"
)

// fakeILS implements every catalog operation and records what it received.
type fakeILS struct {
	mu        sync.Mutex
	section   ils.Section
	inits     int
	initErr   error
	failWith  error
	valid     bool
	closed    bool
	received  map[ils.Operation][]any
	batchHits int
}

func newFakeILS() *fakeILS {
	return &fakeILS{received: make(map[ils.Operation][]any)}
}

func (f *fakeILS) SetConfig(section ils.Section) error {
	if section.String("reject") != "" {
		return errors.New(section.String("reject"))
	}
	f.section = section
	if section.String("valid") == "yes" {
		f.valid = true
	}
	return nil
}

func (f *fakeILS) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	if f.initErr != nil {
		err := f.initErr
		f.initErr = nil
		return err
	}
	return nil
}

func (f *fakeILS) Close() error {
	f.closed = true
	return nil
}

func (f *fakeILS) record(op ils.Operation, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received[op] = args
	return f.failWith
}

func (f *fakeILS) got(op ils.Operation) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received[op]
}

func (f *fakeILS) name() string { return f.section.String("name") }

func (f *fakeILS) GetStatus(_ context.Context, id string) (ils.Record, error) {
	if err := f.record(ils.OpGetStatus, id); err != nil {
		return nil, err
	}
	return ils.Record{"id": id, "status": "in:" + id, "source": f.name()}, nil
}

func (f *fakeILS) GetStatuses(_ context.Context, list []string) ([]ils.Record, error) {
	if err := f.record(ils.OpGetStatuses, list); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.batchHits++
	f.mu.Unlock()
	out := make([]ils.Record, 0, len(list))
	for _, id := range list {
		out = append(out, ils.Record{"id": id, "status": "batch:" + id})
	}
	return out, nil
}

func (f *fakeILS) GetHolding(_ context.Context, id string, patron ils.Record) ([]ils.Record, error) {
	if err := f.record(ils.OpGetHolding, id, patron); err != nil {
		return nil, err
	}
	return []ils.Record{{"id": id, "item_id": "i1"}}, nil
}

func (f *fakeILS) GetPurchaseHistory(_ context.Context, id string) ([]ils.Record, error) {
	if err := f.record(ils.OpGetPurchaseHistory, id); err != nil {
		return nil, err
	}
	return []ils.Record{{"issue": "v1"}}, nil
}

func (f *fakeILS) PatronLogin(_ context.Context, username, password string) (ils.Record, error) {
	if err := f.record(ils.OpPatronLogin, username, password); err != nil {
		return nil, err
	}
	return ils.Record{"id": "p1", "cat_username": username, "cat_password": password}, nil
}

func (f *fakeILS) GetMyProfile(_ context.Context, patron ils.Record) (ils.Record, error) {
	if err := f.record(ils.OpGetMyProfile, patron); err != nil {
		return nil, err
	}
	return ils.Record{"firstname": "Ann", "id": patron.String("id")}, nil
}

func (f *fakeILS) patronList(op ils.Operation, patron ils.Record) ([]ils.Record, error) {
	if err := f.record(op, patron); err != nil {
		return nil, err
	}
	return []ils.Record{{"id": "1"}, {"id": "2"}}, nil
}

func (f *fakeILS) GetMyTransactions(_ context.Context, patron ils.Record) ([]ils.Record, error) {
	return f.patronList(ils.OpGetMyTransactions, patron)
}

func (f *fakeILS) GetMyFines(_ context.Context, patron ils.Record) ([]ils.Record, error) {
	return f.patronList(ils.OpGetMyFines, patron)
}

func (f *fakeILS) GetMyHolds(_ context.Context, patron ils.Record) ([]ils.Record, error) {
	return f.patronList(ils.OpGetMyHolds, patron)
}

func (f *fakeILS) GetMyStorageRetrievalRequests(_ context.Context, patron ils.Record) ([]ils.Record, error) {
	return f.patronList(ils.OpGetMyStorageRetrievalRequests, patron)
}

func (f *fakeILS) GetMyILLRequests(_ context.Context, patron ils.Record) ([]ils.Record, error) {
	return f.patronList(ils.OpGetMyILLRequests, patron)
}

func (f *fakeILS) GetRenewDetails(_ context.Context, checkout ils.Record) (string, error) {
	if err := f.record(ils.OpGetRenewDetails, checkout); err != nil {
		return "", err
	}
	return "renew-" + checkout.String("id"), nil
}

func (f *fakeILS) RenewMyItems(_ context.Context, details ils.Record) (ils.Record, error) {
	if err := f.record(ils.OpRenewMyItems, details); err != nil {
		return nil, err
	}
	return ils.Record{"details": []ils.Record{{"id": "1", "success": true}}}, nil
}

func (f *fakeILS) CheckRequestIsValid(_ context.Context, id string, data, patron ils.Record) (bool, error) {
	return f.valid, f.record(ils.OpCheckRequestIsValid, id, data, patron)
}

func (f *fakeILS) CheckStorageRetrievalRequestIsValid(_ context.Context, id string, data, patron ils.Record) (bool, error) {
	return f.valid, f.record(ils.OpCheckStorageRetrievalRequestIsValid, id, data, patron)
}

func (f *fakeILS) CheckILLRequestIsValid(_ context.Context, id string, data, patron ils.Record) (bool, error) {
	return f.valid, f.record(ils.OpCheckILLRequestIsValid, id, data, patron)
}

func (f *fakeILS) GetNewItems(_ context.Context, page, limit, daysOld int, fundID string) (ils.Record, error) {
	if err := f.record(ils.OpGetNewItems, page, limit, daysOld, fundID); err != nil {
		return nil, err
	}
	return ils.Record{"count": 1, "results": []any{map[string]any{"id": "n1"}}}, nil
}

func (f *fakeILS) FindReserves(_ context.Context, course, inst, dept string) ([]ils.Record, error) {
	if err := f.record(ils.OpFindReserves, course, inst, dept); err != nil {
		return nil, err
	}
	return []ils.Record{{"BIB_ID": "r1"}}, nil
}

func (f *fakeILS) GetConfig(_ context.Context, function, id string) (ils.Record, error) {
	if err := f.record(ils.OpGetConfig, function, id); err != nil {
		return nil, err
	}
	return ils.Record{"config": f.name()}, nil
}

func (f *fakeILS) PlaceHold(_ context.Context, details ils.Record) (ils.Record, error) {
	if err := f.record(ils.OpPlaceHold, details); err != nil {
		return nil, err
	}
	return ils.Record{"success": true, "id": details.String("id")}, nil
}

func (f *fakeILS) CancelHolds(_ context.Context, details ils.Record) (ils.Record, error) {
	if err := f.record(ils.OpCancelHolds, details); err != nil {
		return nil, err
	}
	return ils.Record{"count": 1}, nil
}

func (f *fakeILS) GetPickUpLocations(_ context.Context, patron, details ils.Record) ([]ils.Record, error) {
	if err := f.record(ils.OpGetPickUpLocations, patron, details); err != nil {
		return nil, err
	}
	return []ils.Record{{"locationID": "main", "locationDisplay": "Main"}}, nil
}

func (f *fakeILS) GetDefaultPickUpLocation(_ context.Context, patron, details ils.Record) (string, error) {
	return "main", f.record(ils.OpGetDefaultPickUpLocation, patron, details)
}

// statusOnly declares nothing but single-record status lookups.
type statusOnly struct {
	calls atomic.Int32
}

func (s *statusOnly) SetConfig(ils.Section) error { return nil }
func (s *statusOnly) Init(context.Context) error  { return nil }
func (s *statusOnly) GetStatus(_ context.Context, id string) (ils.Record, error) {
	s.calls.Add(1)
	return ils.Record{"id": id, "status": "single"}, nil
}

// shelfILS knows a fixed set of statuses from its section. Its batch lookup
// leaves out unknown ids and answers in reverse order.
type shelfILS struct {
	statuses ils.Section
}

func (s *shelfILS) SetConfig(section ils.Section) error {
	s.statuses = section.Sub("statuses")
	return nil
}

func (s *shelfILS) Init(context.Context) error { return nil }

func (s *shelfILS) GetStatuses(_ context.Context, list []string) ([]ils.Record, error) {
	out := []ils.Record{}
	for i := len(list) - 1; i >= 0; i-- {
		if status := s.statuses.String(list[i]); status != "" {
			out = append(out, ils.Record{"id": list[i], "status": status})
		}
	}
	return out, nil
}

// opaqueILS only learns its operations during setup.
type opaqueILS struct {
	*fakeILS
	allowed map[ils.Operation]bool
}

func (o *opaqueILS) Init(ctx context.Context) error {
	if err := o.fakeILS.Init(ctx); err != nil {
		return err
	}
	o.allowed = map[ils.Operation]bool{ils.OpGetStatus: true, ils.OpGetStatuses: true}
	return nil
}

func (o *opaqueILS) SupportsOperation(op ils.Operation) bool {
	return o.allowed[op]
}

type fakeDefinition struct {
	kind string
	make func() ils.Connector
	news atomic.Int32
}

func (d *fakeDefinition) Kind() string        { return d.kind }
func (d *fakeDefinition) DisplayName() string { return "Fake " + d.kind }
func (d *fakeDefinition) New(*slog.Logger) ils.Connector {
	d.news.Add(1)
	return d.make()
}

type mapSections map[string]ils.Section

func (m mapSections) Section(name string) (ils.Section, error) {
	if s, ok := m[name]; ok {
		return s, nil
	}
	return ils.Section{}, nil
}

type testEnv struct {
	d    *Dispatcher
	defs map[string]*fakeDefinition
}

type envOptions struct {
	drivers    map[string]string
	def        string
	delims     ids.Delimiters
	sections   SectionSource
	extraKinds []*fakeDefinition
}

// newTestEnv builds a dispatcher over backends d1 and d2 of kind "voyager"
// unless opts says otherwise.
func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	voyager := &fakeDefinition{kind: "voyager", make: func() ils.Connector { return newFakeILS() }}
	defs := map[string]*fakeDefinition{"voyager": voyager}
	reg := registry.NewRegistry()
	if err := reg.Register(voyager); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for _, def := range opts.extraKinds {
		if err := reg.Register(def); err != nil {
			t.Fatalf("Register(%s) error = %v", def.kind, err)
		}
		defs[def.kind] = def
	}

	drivers := opts.drivers
	if drivers == nil {
		drivers = map[string]string{"d1": "voyager", "d2": "voyager"}
	}
	delims := opts.delims
	if delims == (ids.Delimiters{}) {
		delims = ids.DefaultDelimiters()
	}
	backends, err := registry.NewBackends(drivers, opts.def, delims)
	if err != nil {
		t.Fatalf("NewBackends() error = %v", err)
	}
	sections := opts.sections
	if sections == nil {
		sections = mapSections{"d1": {"name": "d1", "valid": "yes"}, "d2": {"name": "d2"}}
	}

	d, err := New(Options{
		Registry:   reg,
		Backends:   backends,
		Sections:   sections,
		Delimiters: delims,
		Logger:     slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	// Reset the prototype construction done at registration.
	for _, def := range defs {
		def.news.Store(0)
	}
	return &testEnv{d: d, defs: defs}
}

func (e *testEnv) fake(t *testing.T, name string) *fakeILS {
	t.Helper()
	conn, err := e.d.cache.Uninitialized(context.Background(), name)
	if err != nil {
		t.Fatalf("Uninitialized(%s) error = %v", name, err)
	}
	switch c := conn.(type) {
	case *fakeILS:
		return c
	case *opaqueILS:
		return c.fakeILS
	default:
		t.Fatalf("backend %s holds %T", name, conn)
		return nil
	}
}
