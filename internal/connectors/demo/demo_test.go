package demo

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/open-sspm/open-ils/internal/ils"
)

const sampleSection = `
renewal_days = 7

[[records]]
id = "r1"
title = "Distributed Systems"
location = "Main"
callnumber = "QA 76.9"
copies = 2
added = 2026-10-10
fund = "cs"
issues = ["vol. 1", "vol. 2"]

[[records]]
id = "r2"
title = "Old Maps"
status = "Charged"
holdable = false
storage = true
added = "2020-01-01"

[[records]]
id = "r3"
title = "Fresh Poems"
added = "2026-10-18"

[[patrons]]
id = "p1"
username = "ann"
password = "secret"
firstname = "Ann"
lastname = "Reader"
pickup = "branch"

[[patrons]]
username = "bob"
password = "pw"

[[loans]]
patron = "p1"
id = "r2"
item_id = "r2-1"
duedate = "2026-11-01"

[[loans]]
patron = "p1"
id = "r1"
item_id = "r1-2"
duedate = "2026-11-02"
renewable = false

[[holds]]
patron = "p1"
id = "r3"
create = "2026-10-01"
expire = "2026-11-01"

[[fines]]
patron = "p1"
id = "r2"
amount = 250
fine = "Overdue"

[[ill_requests]]
patron = "p1"
id = "x9"
status = "in transit"

[[reserves]]
id = "r1"
course = "CS101"
instructor = "Knuth"
department = "CS"

[[pickup_locations]]
id = "main"
display = "Main Library"

[[pickup_locations]]
id = "branch"

[config.Holds]
HMACKeys = "id"
`

func newConnector(t *testing.T) *Connector {
	t.Helper()

	var section ils.Section
	if err := toml.Unmarshal([]byte(sampleSection), &section); err != nil {
		t.Fatalf("decode section: %v", err)
	}
	c := New(slog.New(slog.DiscardHandler))
	c.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	if err := c.SetConfig(section); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return c
}

func TestSetConfigRejectsBrokenCatalog(t *testing.T) {
	t.Parallel()

	tests := map[string]ils.Section{
		"record without id": {"records": []any{map[string]any{"title": "x"}}},
		"duplicate record":  {"records": []any{map[string]any{"id": "a"}, map[string]any{"id": "a"}}},
		"bad date":          {"loans": []any{map[string]any{"id": "a", "duedate": "tomorrow"}}},
		"anonymous patron":  {"patrons": []any{map[string]any{"password": "pw"}}},
	}
	for name, section := range tests {
		if err := New(nil).SetConfig(section); err == nil {
			t.Fatalf("%s: SetConfig() error = nil, want error", name)
		}
	}
}

func TestOperationsBeforeInitFail(t *testing.T) {
	t.Parallel()

	c := New(nil)
	if _, err := c.GetStatus(context.Background(), "r1"); err == nil {
		t.Fatal("GetStatus() before Init should fail")
	}
}

func TestStatusAndHoldings(t *testing.T) {
	t.Parallel()

	c := newConnector(t)
	ctx := context.Background()

	status, err := c.GetStatus(ctx, "r1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.String("status") != "Available" || status["availability"] != true || status.String("location") != "Main" {
		t.Fatalf("status = %v", status)
	}
	if missing, err := c.GetStatus(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("GetStatus(nope) = %v, %v; want nil, nil", missing, err)
	}

	statuses, err := c.GetStatuses(ctx, []string{"r2", "nope", "r1"})
	if err != nil {
		t.Fatalf("GetStatuses() error = %v", err)
	}
	if len(statuses) != 2 || statuses[0].String("id") != "r2" || statuses[1].String("id") != "r1" {
		t.Fatalf("statuses = %v", statuses)
	}

	holding, err := c.GetHolding(ctx, "r1", nil)
	if err != nil || len(holding) != 2 || holding[1].String("item_id") != "r1-2" {
		t.Fatalf("GetHolding() = %v, %v", holding, err)
	}

	history, err := c.GetPurchaseHistory(ctx, "r1")
	if err != nil || len(history) != 2 || history[1].String("issue") != "vol. 2" {
		t.Fatalf("GetPurchaseHistory() = %v, %v", history, err)
	}
}

func TestPatronLoginAndProfile(t *testing.T) {
	t.Parallel()

	c := newConnector(t)
	ctx := context.Background()

	patron, err := c.PatronLogin(ctx, "ann", "secret")
	if err != nil {
		t.Fatalf("PatronLogin() error = %v", err)
	}
	if patron.String("id") != "p1" || patron.String("cat_username") != "ann" || patron.String("cat_password") != "secret" {
		t.Fatalf("patron = %v", patron)
	}
	if bad, err := c.PatronLogin(ctx, "ann", "wrong"); err != nil || bad != nil {
		t.Fatalf("PatronLogin(wrong) = %v, %v; want nil, nil", bad, err)
	}
	bob, err := c.PatronLogin(ctx, "bob", "pw")
	if err != nil || bob.String("id") != "bob" {
		t.Fatalf("PatronLogin(bob) = %v, %v", bob, err)
	}

	profile, err := c.GetMyProfile(ctx, patron)
	if err != nil || profile.String("firstname") != "Ann" {
		t.Fatalf("GetMyProfile() = %v, %v", profile, err)
	}
	if _, err := c.GetMyProfile(ctx, ils.Record{"id": "ghost"}); !errors.Is(err, ErrUnknownPatron) {
		t.Fatalf("GetMyProfile(ghost) error = %v, want %v", err, ErrUnknownPatron)
	}
}

func TestPatronListsAndRenewals(t *testing.T) {
	t.Parallel()

	c := newConnector(t)
	ctx := context.Background()
	patron := ils.Record{"id": "p1"}

	loans, err := c.GetMyTransactions(ctx, patron)
	if err != nil || len(loans) != 2 {
		t.Fatalf("GetMyTransactions() = %v, %v", loans, err)
	}
	key, err := c.GetRenewDetails(ctx, loans[0])
	if err != nil || key != "r2-1" {
		t.Fatalf("GetRenewDetails() = %q, %v", key, err)
	}

	res, err := c.RenewMyItems(ctx, ils.Record{"patron": patron, "details": []any{"r2-1", "r1-2", "unknown"}})
	if err != nil {
		t.Fatalf("RenewMyItems() error = %v", err)
	}
	details, _ := res["details"].([]ils.Record)
	if len(details) != 3 {
		t.Fatalf("renew details = %v", res)
	}
	if details[0]["success"] != true || details[0].String("new_date") != "2026-11-08" {
		t.Fatalf("renewable loan = %v", details[0])
	}
	if details[1]["success"] != false || details[2]["success"] != false {
		t.Fatalf("non-renewable results = %v", details)
	}

	fines, err := c.GetMyFines(ctx, patron)
	if err != nil || len(fines) != 1 || fines[0]["amount"] != 250 || fines[0].String("title") != "Old Maps" {
		t.Fatalf("GetMyFines() = %v, %v", fines, err)
	}
	ill, err := c.GetMyILLRequests(ctx, patron)
	if err != nil || len(ill) != 1 || ill[0].String("status") != "in transit" {
		t.Fatalf("GetMyILLRequests() = %v, %v", ill, err)
	}
	storage, err := c.GetMyStorageRetrievalRequests(ctx, patron)
	if err != nil || storage == nil || len(storage) != 0 {
		t.Fatalf("GetMyStorageRetrievalRequests() = %v, %v; want empty list", storage, err)
	}
}

func TestRequestValidity(t *testing.T) {
	t.Parallel()

	c := newConnector(t)
	ctx := context.Background()
	ann := ils.Record{"id": "p1"}

	tests := []struct {
		name  string
		check func() (bool, error)
		want  bool
	}{
		{name: "holdable record", check: func() (bool, error) { return c.CheckRequestIsValid(ctx, "r1", nil, ann) }, want: true},
		{name: "already held", check: func() (bool, error) { return c.CheckRequestIsValid(ctx, "r3", nil, ann) }, want: false},
		{name: "not holdable", check: func() (bool, error) { return c.CheckRequestIsValid(ctx, "r2", nil, ann) }, want: false},
		{name: "unknown patron", check: func() (bool, error) { return c.CheckRequestIsValid(ctx, "r1", nil, ils.Record{"id": "x"}) }, want: false},
		{name: "storage record", check: func() (bool, error) { return c.CheckStorageRetrievalRequestIsValid(ctx, "r2", nil, ann) }, want: true},
		{name: "no storage", check: func() (bool, error) { return c.CheckStorageRetrievalRequestIsValid(ctx, "r1", nil, ann) }, want: false},
		{name: "ill foreign record", check: func() (bool, error) { return c.CheckILLRequestIsValid(ctx, "elsewhere.1", nil, ann) }, want: true},
	}
	for _, tt := range tests {
		got, err := tt.check()
		if err != nil || got != tt.want {
			t.Fatalf("%s: got %v, %v; want %v", tt.name, got, err, tt.want)
		}
	}
}

func TestNewItemsAndReserves(t *testing.T) {
	t.Parallel()

	c := newConnector(t)
	ctx := context.Background()

	items, err := c.GetNewItems(ctx, 1, 10, 30, "")
	if err != nil {
		t.Fatalf("GetNewItems() error = %v", err)
	}
	results, _ := items["results"].([]any)
	if items["count"] != 2 || len(results) != 2 {
		t.Fatalf("new items = %v", items)
	}
	if first, _ := results[0].(map[string]any); first["id"] != "r3" {
		t.Fatalf("newest item = %v, want r3", results[0])
	}

	page2, _ := c.GetNewItems(ctx, 2, 1, 30, "")
	if res, _ := page2["results"].([]any); len(res) != 1 {
		t.Fatalf("page 2 = %v", page2)
	}
	byFund, _ := c.GetNewItems(ctx, 1, 10, 30, "cs")
	if byFund["count"] != 1 {
		t.Fatalf("fund filter = %v", byFund)
	}

	reserves, err := c.FindReserves(ctx, "cs101", "", "")
	if err != nil || len(reserves) != 1 || reserves[0].String("BIB_ID") != "r1" {
		t.Fatalf("FindReserves() = %v, %v", reserves, err)
	}
	none, _ := c.FindReserves(ctx, "", "Dijkstra", "")
	if len(none) != 0 {
		t.Fatalf("FindReserves(Dijkstra) = %v", none)
	}

	cfg, err := c.GetConfig(ctx, "Holds", "")
	if err != nil || cfg.String("HMACKeys") != "id" {
		t.Fatalf("GetConfig() = %v, %v", cfg, err)
	}
}

func TestHoldLifecycle(t *testing.T) {
	t.Parallel()

	c := newConnector(t)
	ctx := context.Background()
	ann := ils.Record{"id": "p1"}

	placed, err := c.PlaceHold(ctx, ils.Record{"patron": ann, "id": "r1"})
	if err != nil || placed["success"] != true {
		t.Fatalf("PlaceHold() = %v, %v", placed, err)
	}
	again, _ := c.PlaceHold(ctx, ils.Record{"patron": ann, "id": "r1"})
	if again["success"] != false || again.String("sysMessage") != holdInvalid {
		t.Fatalf("duplicate PlaceHold() = %v", again)
	}

	holds, _ := c.GetMyHolds(ctx, ann)
	if len(holds) != 2 || holds[1].String("location") != "branch" || holds[1].String("expire") != "2026-11-18" {
		t.Fatalf("holds = %v", holds)
	}

	cancelled, err := c.CancelHolds(ctx, ils.Record{"patron": ann, "details": []string{"r1", "zzz"}})
	if err != nil || cancelled["count"] != 1 {
		t.Fatalf("CancelHolds() = %v, %v", cancelled, err)
	}
	holds, _ = c.GetMyHolds(ctx, ann)
	if len(holds) != 1 {
		t.Fatalf("holds after cancel = %v", holds)
	}

	locations, err := c.GetPickUpLocations(ctx, ann, nil)
	if err != nil || len(locations) != 2 || locations[1].String("locationDisplay") != "branch" {
		t.Fatalf("GetPickUpLocations() = %v, %v", locations, err)
	}
	def, _ := c.GetDefaultPickUpLocation(ctx, ann, nil)
	if def != "branch" {
		t.Fatalf("default pickup = %q, want branch", def)
	}
	def, _ = c.GetDefaultPickUpLocation(ctx, ils.Record{"id": "bob"}, nil)
	if def != "main" {
		t.Fatalf("default pickup for bob = %q, want main", def)
	}
}

func TestCapabilitiesCoverSurface(t *testing.T) {
	t.Parallel()

	caps := ils.CapabilitiesOf(New(nil))
	for _, op := range ils.Operations() {
		if !caps.Has(op) {
			t.Fatalf("demo connector lacks %s", op)
		}
	}
}
