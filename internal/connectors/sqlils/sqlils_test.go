package sqlils

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/open-sspm/open-ils/internal/connectors/configstore"
	"github.com/open-sspm/open-ils/internal/ils"
)

var seedStatements = []string{
	`INSERT INTO borrower VALUES ('B100', 'Ann', 'Reader', 'ann@example.org', 'R1', '81', 1, '44', 'ger', 2)`,
	`INSERT INTO borrower VALUES ('B200', 'Bob', 'Other', '', 'R2', '1', 2, '99', 'eng', 0)`,
	`INSERT INTO pincode VALUES (1, 1342)`,
	`INSERT INTO pincode VALUES (2, 1342)`,
	`INSERT INTO address VALUES (1, 1, '12345', 'Main St 1', 'Gottingen', '0551')`,
	`INSERT INTO address VALUES (1, 2, '54321', 'PO Box 9', 'Kassel', '0561')`,
	"INSERT INTO ous_copy_cache VALUES ('E1', '44', '123456789', 'Gr\xfcne Wiese', '2001', 'QA 76', 'Stacks')",
	"INSERT INTO ous_copy_cache VALUES ('E2', '44', '123456789', 'Gr\xfcne Wiese', '2001', 'QA 76 b', 'Stacks')",
	`INSERT INTO ous_copy_cache VALUES ('E3', '44', '23', 'Short', '1999', 'Z 1', 'Annex')`,
	`INSERT INTO ous_copy_cache VALUES ('E4', '99', '555', 'Elsewhere', '1990', 'Y 1', 'Remote')`,
	`INSERT INTO volume VALUES ('V1', 'E1', 'BC1')`,
	`INSERT INTO volume VALUES ('V2', 'E2', 'BC2')`,
	`INSERT INTO volume VALUES ('V3', 'E3', 'BC3')`,
	`INSERT INTO volume VALUES ('V4', 'E4', 'BC4')`,
	`INSERT INTO loans_requests VALUES ('V1', 1, '44', '01.02.2026', 1, 1, '')`,
	`INSERT INTO loans_requests VALUES ('V3', 1, '44', '15.03.2026', 0, 0, 'recalled')`,
	`INSERT INTO reservation VALUES ('V2', 1, '2026-01-05', '2026-02-05')`,
	`INSERT INTO requisition VALUES (1, '44', 'V1', 3, 1.5, '01.01.2026', '10.01.2026', '')`,
	`INSERT INTO requisition VALUES (1, '44', '77', 5, 2.0, '02.01.2026', '12.01.2026', 'Lost card')`,
}

func newSQLiteConnector(t *testing.T) *Connector {
	t.Helper()

	c := New(slog.New(slog.DiscardHandler))
	err := c.SetConfig(ils.Section{
		"driver":        "sqlite",
		"dsn":           ":memory:",
		"iln":           int64(44),
		"create_schema": true,
		"Holds":         map[string]any{"HMACKeys": "id", "extraHoldFields": "pickUpLocation"},
	})
	if err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	for _, stmt := range seedStatements {
		if _, err := c.DB().ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
	return c
}

func TestSetConfigRequiresDatabase(t *testing.T) {
	t.Parallel()

	c := New(nil)
	err := c.SetConfig(ils.Section{"iln": "44"})
	if !errors.Is(err, configstore.ErrNoDatabase) {
		t.Fatalf("SetConfig() error = %v, want %v", err, configstore.ErrNoDatabase)
	}
	if err := c.Init(context.Background()); !errors.Is(err, configstore.ErrNoDatabase) {
		t.Fatalf("Init() error = %v, want %v", err, configstore.ErrNoDatabase)
	}
}

func TestPatronLogin(t *testing.T) {
	t.Parallel()

	c := newSQLiteConnector(t)
	ctx := context.Background()

	patron, err := c.PatronLogin(ctx, "B100", "1234")
	if err != nil {
		t.Fatalf("PatronLogin() error = %v", err)
	}
	want := ils.Record{
		"id":            "B100",
		"firstname":     "Ann",
		"lastname":      "Reader",
		"cat_username":  "B100",
		"cat_password":  "1234",
		"email":         "ann@example.org",
		"major":         "R1",
		"college":       "81",
		"address_id_nr": "1",
		"iln":           "44",
		"lang":          "ger",
	}
	for key, val := range want {
		if patron[key] != val {
			t.Fatalf("patron[%q] = %#v, want %#v", key, patron[key], val)
		}
	}

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "wrong pin", username: "B100", password: "4321"},
		{name: "unknown barcode", username: "B999", password: "1234"},
		{name: "other library", username: "B200", password: "1234"},
	}
	for _, tt := range tests {
		got, err := c.PatronLogin(ctx, tt.username, tt.password)
		if err != nil || got != nil {
			t.Fatalf("%s: PatronLogin() = %v, %v; want nil, nil", tt.name, got, err)
		}
	}
}

func TestGetMyProfile(t *testing.T) {
	t.Parallel()

	c := newSQLiteConnector(t)
	ctx := context.Background()

	profile, err := c.GetMyProfile(ctx, ils.Record{"id": "B100"})
	if err != nil {
		t.Fatalf("GetMyProfile() error = %v", err)
	}
	if profile.String("group") != "Staff" {
		t.Fatalf("group = %q, want Staff", profile.String("group"))
	}
	if profile.String("address1") != "PO Box 9, 54321 Kassel" {
		t.Fatalf("address1 = %q", profile.String("address1"))
	}
	if profile.String("address2") != "Main St 1, 12345 Gottingen" {
		t.Fatalf("address2 = %q", profile.String("address2"))
	}

	unknown := ils.Record{"id": "B999", "firstname": "Nobody"}
	got, err := c.GetMyProfile(ctx, unknown)
	if err != nil {
		t.Fatalf("GetMyProfile(unknown) error = %v", err)
	}
	if got.String("firstname") != "Nobody" {
		t.Fatalf("unknown borrower should get the patron back, got %v", got)
	}
}

func TestPatronLists(t *testing.T) {
	t.Parallel()

	c := newSQLiteConnector(t)
	ctx := context.Background()
	patron, err := c.PatronLogin(ctx, "B100", "1234")
	if err != nil || patron == nil {
		t.Fatalf("PatronLogin() = %v, %v", patron, err)
	}

	loans, err := c.GetMyTransactions(ctx, patron)
	if err != nil {
		t.Fatalf("GetMyTransactions() error = %v", err)
	}
	if len(loans) != 2 {
		t.Fatalf("loans = %d, want 2", len(loans))
	}
	first := loans[0]
	if first.String("id") != "123456789X" || first.String("title") != "Grne Wiese" || first.String("item_id") != "V1" {
		t.Fatalf("first loan = %v", first)
	}
	if first["renewable"] != true || first["renew"] != int64(1) || first.String("duedate") != "01.02.2026" {
		t.Fatalf("first loan renewal fields = %v", first)
	}
	if loans[1].String("id") != "23X" || loans[1]["renewable"] != false || loans[1].String("message") != "recalled" {
		t.Fatalf("second loan = %v", loans[1])
	}

	// A bare patron record is looked up by barcode.
	holds, err := c.GetMyHolds(ctx, ils.Record{"cat_username": "B100"})
	if err != nil {
		t.Fatalf("GetMyHolds() error = %v", err)
	}
	if len(holds) != 1 || holds[0].String("id") != "123456789X" || holds[0].String("create") != "2026-01-05" {
		t.Fatalf("holds = %v", holds)
	}

	fines, err := c.GetMyFines(ctx, patron)
	if err != nil {
		t.Fatalf("GetMyFines() error = %v", err)
	}
	if len(fines) != 2 {
		t.Fatalf("fines = %d, want 2", len(fines))
	}
	if fines[0].String("id") != "123456789X" || fines[0]["amount"] != 150 || fines[0].String("fine") != "Overdue" {
		t.Fatalf("first fine = %v", fines[0])
	}
	if fines[1].String("id") != checkDigit("77") || fines[1]["amount"] != 200 || fines[1].String("fine") != "Lost card" {
		t.Fatalf("second fine = %v", fines[1])
	}

	if _, err := c.GetMyHolds(ctx, ils.Record{"id": "B999"}); !errors.Is(err, ErrUnknownPatron) {
		t.Fatalf("GetMyHolds(unknown) error = %v, want %v", err, ErrUnknownPatron)
	}

	history, err := c.GetPurchaseHistory(ctx, "123456789X")
	if err != nil || history == nil || len(history) != 0 {
		t.Fatalf("GetPurchaseHistory() = %v, %v; want empty list", history, err)
	}
}

func TestStatusLookups(t *testing.T) {
	t.Parallel()

	c := newSQLiteConnector(t)
	ctx := context.Background()

	status, err := c.GetStatus(ctx, "123456789X")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.String("status") != statusAvailable || status["copies"] != 2 || status["available"] != 1 {
		t.Fatalf("status = %v", status)
	}
	if status.String("id") != "123456789X" {
		t.Fatalf("status id = %q, want the requested id", status.String("id"))
	}

	missing, err := c.GetStatus(ctx, "555")
	if err != nil || missing != nil {
		t.Fatalf("GetStatus(other library) = %v, %v; want nil, nil", missing, err)
	}

	statuses, err := c.GetStatuses(ctx, []string{"23X", "nope", "123456789X"})
	if err != nil {
		t.Fatalf("GetStatuses() error = %v", err)
	}
	if len(statuses) != 2 || statuses[0].String("id") != "23X" || statuses[1].String("id") != "123456789X" {
		t.Fatalf("statuses = %v", statuses)
	}
	if statuses[0].String("status") != statusCharged || statuses[0]["availability"] != false {
		t.Fatalf("charged status = %v", statuses[0])
	}

	holding, err := c.GetHolding(ctx, "123456789X", nil)
	if err != nil {
		t.Fatalf("GetHolding() error = %v", err)
	}
	if len(holding) != 2 || holding[0].String("status") != statusCharged || holding[1].String("status") != statusAvailable {
		t.Fatalf("holding = %v", holding)
	}
}

func TestGetConfig(t *testing.T) {
	t.Parallel()

	c := newSQLiteConnector(t)
	ctx := context.Background()

	holds, err := c.GetConfig(ctx, "Holds", "")
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if holds.String("HMACKeys") != "id" {
		t.Fatalf("Holds config = %v", holds)
	}
	none, err := c.GetConfig(ctx, "Renewals", "")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("GetConfig(missing) = %v, %v; want empty record", none, err)
	}
}

func newMockConnector(t *testing.T) (*Connector, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	c := New(slog.New(slog.DiscardHandler))
	if err := c.SetConfig(ils.Section{"dsn": "postgres://lbs@db/lbs", "iln": "44"}); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	c.db = db
	return c, mock
}

func TestInitPingFailure(t *testing.T) {
	t.Parallel()

	c, mock := newMockConnector(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	if err := c.Init(context.Background()); err == nil {
		t.Fatal("Init() error = nil, want ping failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresPlaceholders(t *testing.T) {
	t.Parallel()

	c, mock := newMockConnector(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE b.borrower_bar = $1 AND b.iln = $2 AND p.hashnumber = $3")).
		WithArgs("B100", "44", pinHash("pw")).
		WillReturnRows(sqlmock.NewRows([]string{"borrower_bar"}))

	patron, err := c.PatronLogin(context.Background(), "B100", "pw")
	if err != nil || patron != nil {
		t.Fatalf("PatronLogin() = %v, %v; want nil, nil", patron, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestQueryFailuresAreReturned(t *testing.T) {
	t.Parallel()

	c, mock := newMockConnector(t)
	boom := errors.New("deadlock detected")
	mock.ExpectQuery("FROM ous_copy_cache o").WillReturnError(boom)
	mock.ExpectQuery("FROM loans_requests l").WithArgs("7", "44").WillReturnError(boom)

	ctx := context.Background()
	if _, err := c.GetStatuses(ctx, []string{"1", "2"}); !errors.Is(err, boom) {
		t.Fatalf("GetStatuses() error = %v, want %v", err, boom)
	}
	if _, err := c.GetMyTransactions(ctx, ils.Record{"address_id_nr": float64(7)}); !errors.Is(err, boom) {
		t.Fatalf("GetMyTransactions() error = %v, want %v", err, boom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		driver string
		query  string
		want   string
	}{
		{driver: configstore.SQLDriverPostgres, query: "a = ? AND b IN (" + placeholders(2) + ")", want: "a = $1 AND b IN ($2, $3)"},
		{driver: configstore.SQLDriverPostgres, query: "SELECT 1", want: "SELECT 1"},
		{driver: configstore.SQLDriverSQLite, query: "a = ? AND b = ?", want: "a = ? AND b = ?"},
	}
	for _, tt := range tests {
		c := &Connector{cfg: configstore.SQLConfig{Driver: tt.driver}}
		if got := c.rebind(tt.query); got != tt.want {
			t.Fatalf("rebind(%s, %q) = %q, want %q", tt.driver, tt.query, got, tt.want)
		}
	}
}

func TestInitMigratesSchema(t *testing.T) {
	t.Parallel()

	c := newSQLiteConnector(t)
	ctx := context.Background()

	var version int
	var dirty bool
	if err := c.DB().QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations").Scan(&version, &dirty); err != nil {
		t.Fatalf("read schema_migrations: %v", err)
	}
	if version != 1 || dirty {
		t.Fatalf("schema_migrations = (%d, %v), want (1, false)", version, dirty)
	}

	// A second Init finds nothing to apply and keeps the seeded rows.
	if err := c.Init(ctx); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	var borrowers int
	if err := c.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM borrower").Scan(&borrowers); err != nil {
		t.Fatalf("count borrowers: %v", err)
	}
	if borrowers != 2 {
		t.Fatalf("borrowers = %d, want 2", borrowers)
	}
}
