package sqlils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"

	"github.com/open-sspm/open-ils/internal/ils"
)

// ErrUnknownPatron is returned when a patron record names no borrower of the
// configured library.
var ErrUnknownPatron = errors.New("unknown patron")

const (
	statusAvailable = "Available"
	statusCharged   = "Charged"
)

var borrowerGroups = map[string]string{
	"81": "Staff",
	"1":  "Student",
	"30": "Residents",
}

const loginQuery = `SELECT b.borrower_bar, b.first_name_initials_prefix, b.name, b.email_address,
	b.registration_number, b.borrower_type, b.address_id_nr, b.iln, b.language_code
FROM borrower b
JOIN pincode p ON b.address_id_nr = p.address_id_nr
WHERE b.borrower_bar = ? AND b.iln = ? AND p.hashnumber = ?`

// PatronLogin authenticates a borrower barcode and pin. Unknown barcodes and
// wrong pins both yield a nil record.
func (c *Connector) PatronLogin(ctx context.Context, username, password string) (ils.Record, error) {
	rows, err := c.query(ctx, loginQuery, username, c.cfg.ILN, pinHash(password))
	if err != nil {
		return nil, fmt.Errorf("query borrower: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var barcode, first, last, email, regNo, borrowerType, addressID, iln, lang string
	if err := rows.Scan(&barcode, &first, &last, &email, &regNo, &borrowerType, &addressID, &iln, &lang); err != nil {
		return nil, fmt.Errorf("scan borrower: %w", err)
	}
	return ils.Record{
		"id":            barcode,
		"firstname":     first,
		"lastname":      last,
		"cat_username":  barcode,
		"cat_password":  password,
		"email":         email,
		"major":         regNo,
		"college":       borrowerType,
		"address_id_nr": addressID,
		"iln":           iln,
		"lang":          lang,
	}, nil
}

const profileQuery = `SELECT b.first_name_initials_prefix, b.name, b.email_address, b.borrower_type,
	b.reminder_address, a.sub_postal_code, a.address_pob, a.town, a.telephone_number, a.address_code
FROM borrower b
JOIN address a ON b.address_id_nr = a.address_id_nr
WHERE b.borrower_bar = ?
ORDER BY a.address_code ASC`

// GetMyProfile returns name, contact and addresses of the patron. A borrower
// without address rows gets the patron record back.
func (c *Connector) GetMyProfile(ctx context.Context, patron ils.Record) (ils.Record, error) {
	rows, err := c.query(ctx, profileQuery, patronBarcode(patron))
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	defer rows.Close()

	type addressRow struct {
		first, last, email, group, postal, pob, town, phone string
		reminder, code                                      int64
	}
	scan := func() (addressRow, error) {
		var r addressRow
		err := rows.Scan(&r.first, &r.last, &r.email, &r.group, &r.reminder, &r.postal, &r.pob, &r.town, &r.phone, &r.code)
		return r, err
	}
	format := func(r addressRow) string {
		return r.pob + ", " + r.postal + " " + r.town
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return patron, nil
	}
	first, err := scan()
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	profile := ils.Record{
		"firstname": first.first,
		"lastname":  first.last,
		"address1":  format(first),
		"email":     first.email,
		"phone":     first.phone,
		"group":     first.group,
	}
	if label, ok := borrowerGroups[first.group]; ok {
		profile["group"] = label
	}
	if rows.Next() {
		second, err := scan()
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		// The reminder address is listed first when it is not the primary one.
		if second.reminder == second.code {
			profile["address2"] = profile["address1"]
			profile["address1"] = format(second)
		} else {
			profile["address2"] = format(second)
		}
	}
	return profile, rows.Err()
}

const transactionsQuery = `SELECT o.ppn, l.expiry_date, v.barcode, l.no_renewals, o.publication_year,
	l.renewable, l.message, o.shorttitle, l.volume_number
FROM loans_requests l
JOIN volume v ON v.volume_number = l.volume_number
JOIN ous_copy_cache o ON o.epn = v.epn AND o.iln = l.iln
WHERE l.address_id_nr = ? AND l.iln = ?
ORDER BY l.expiry_date, l.volume_number`

func (c *Connector) GetMyTransactions(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	acct, err := c.account(ctx, patron)
	if err != nil {
		return nil, err
	}
	rows, err := c.query(ctx, transactionsQuery, acct.addressID, acct.iln)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer rows.Close()

	out := []ils.Record{}
	for rows.Next() {
		var ppn, due, barcode, year, message, title, volume string
		var renewals, renewable int64
		if err := rows.Scan(&ppn, &due, &barcode, &renewals, &year, &renewable, &message, &title, &volume); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		out = append(out, ils.Record{
			"id":               checkDigit(ppn),
			"duedate":          truncate(due, 12),
			"barcode":          barcode,
			"renew":            renewals,
			"publication_year": year,
			"renewable":        renewable != 0,
			"message":          message,
			"title":            picaRecode(title),
			"item_id":          volume,
		})
	}
	return out, rows.Err()
}

const holdsQuery = `SELECT o.ppn, o.shorttitle, r.reservation_date_time, r.expiry_date
FROM reservation r
JOIN volume v ON v.volume_number = r.volume_number
JOIN ous_copy_cache o ON o.epn = v.epn
WHERE r.address_id_nr = ? AND o.iln = ?
ORDER BY r.reservation_date_time, o.ppn`

func (c *Connector) GetMyHolds(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	acct, err := c.account(ctx, patron)
	if err != nil {
		return nil, err
	}
	rows, err := c.query(ctx, holdsQuery, acct.addressID, acct.iln)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	out := []ils.Record{}
	for rows.Next() {
		var ppn, title, created, expires string
		if err := rows.Scan(&ppn, &title, &created, &expires); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, ils.Record{
			"id":     checkDigit(ppn),
			"create": created,
			"expire": expires,
			"title":  picaRecode(title),
		})
	}
	return out, rows.Err()
}

const finesQuery = `SELECT o.ppn, r.costs_code, r.costs, r.date_of_issue, r.date_of_creation,
	'Overdue', o.shorttitle
FROM requisition r
JOIN volume v ON r.id_number = v.volume_number
JOIN ous_copy_cache o ON v.epn = o.epn AND r.iln = o.iln
WHERE r.address_id_nr = ? AND r.iln = ? AND r.costs_code IN (1, 2, 3, 4, 8)
UNION
SELECT r.id_number, r.costs_code, r.costs, r.date_of_issue, r.date_of_creation,
	r.extra_information, ''
FROM requisition r
WHERE r.address_id_nr = ? AND r.iln = ? AND r.costs_code NOT IN (1, 2, 3, 4, 8)
ORDER BY 4, 1`

// GetMyFines lists the patron's fees. Amounts are in cents.
func (c *Connector) GetMyFines(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	acct, err := c.account(ctx, patron)
	if err != nil {
		return nil, err
	}
	rows, err := c.query(ctx, finesQuery, acct.addressID, acct.iln, acct.addressID, acct.iln)
	if err != nil {
		return nil, fmt.Errorf("query requisitions: %w", err)
	}
	defer rows.Close()

	out := []ils.Record{}
	for rows.Next() {
		var id, issued, created, fine, title string
		var code int64
		var costs sql.NullFloat64
		if err := rows.Scan(&id, &code, &costs, &issued, &created, &fine, &title); err != nil {
			return nil, fmt.Errorf("scan requisition: %w", err)
		}
		amount := 0
		if costs.Valid {
			amount = int(math.Round(costs.Float64 * 100))
		}
		out = append(out, ils.Record{
			"id":       checkDigit(id),
			"amount":   amount,
			"balance":  amount,
			"checkout": truncate(issued, 12),
			"duedate":  truncate(created, 12),
			"fine":     picaRecode(fine),
			"title":    picaRecode(title),
		})
	}
	return out, rows.Err()
}

// GetPurchaseHistory is not tracked by the catalog database.
func (c *Connector) GetPurchaseHistory(context.Context, string) ([]ils.Record, error) {
	return []ils.Record{}, nil
}

type copyRow struct {
	ppn, epn, volume, barcode, callnumber, location string
	loans                                           int64
}

func (r copyRow) available() bool { return r.loans == 0 }

func (r copyRow) status() string {
	if r.available() {
		return statusAvailable
	}
	return statusCharged
}

const copiesQuery = `SELECT o.ppn, o.epn, v.volume_number, v.barcode, o.signature, o.location,
	(SELECT COUNT(*) FROM loans_requests l WHERE l.volume_number = v.volume_number AND l.iln = o.iln)
FROM ous_copy_cache o
JOIN volume v ON v.epn = o.epn
WHERE o.iln = ? AND o.ppn IN (%s)
ORDER BY o.ppn, v.volume_number`

// copies loads the copies of the given PPNs, grouped by PPN.
func (c *Connector) copies(ctx context.Context, ppns []string) (map[string][]copyRow, error) {
	out := make(map[string][]copyRow, len(ppns))
	if len(ppns) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ppns)+1)
	args = append(args, c.cfg.ILN)
	for _, ppn := range ppns {
		args = append(args, ppn)
	}
	rows, err := c.query(ctx, fmt.Sprintf(copiesQuery, placeholders(len(ppns))), args...)
	if err != nil {
		return nil, fmt.Errorf("query copies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r copyRow
		if err := rows.Scan(&r.ppn, &r.epn, &r.volume, &r.barcode, &r.callnumber, &r.location, &r.loans); err != nil {
			return nil, fmt.Errorf("scan copy: %w", err)
		}
		out[r.ppn] = append(out[r.ppn], r)
	}
	return out, rows.Err()
}

func statusRecord(id string, copies []copyRow) ils.Record {
	available := 0
	for _, cp := range copies {
		if cp.available() {
			available++
		}
	}
	status := statusCharged
	if available > 0 {
		status = statusAvailable
	}
	return ils.Record{
		"id":           id,
		"status":       status,
		"availability": available > 0,
		"location":     copies[0].location,
		"callnumber":   copies[0].callnumber,
		"copies":       len(copies),
		"available":    available,
		"reserve":      "N",
	}
}

// GetStatus summarizes the copies of one record. Records without copies in
// the configured library yield nil.
func (c *Connector) GetStatus(ctx context.Context, id string) (ils.Record, error) {
	ppn := stripCheckDigit(id)
	copies, err := c.copies(ctx, []string{ppn})
	if err != nil {
		return nil, err
	}
	if len(copies[ppn]) == 0 {
		return nil, nil
	}
	return statusRecord(id, copies[ppn]), nil
}

// GetStatuses looks up several records with a single query. Records without
// copies are left out.
func (c *Connector) GetStatuses(ctx context.Context, idList []string) ([]ils.Record, error) {
	ppns := make([]string, 0, len(idList))
	for _, id := range idList {
		ppns = append(ppns, stripCheckDigit(id))
	}
	copies, err := c.copies(ctx, ppns)
	if err != nil {
		return nil, err
	}
	out := make([]ils.Record, 0, len(idList))
	for i, id := range idList {
		if cps := copies[ppns[i]]; len(cps) > 0 {
			out = append(out, statusRecord(id, cps))
		}
	}
	return out, nil
}

// GetHolding lists every copy of a record.
func (c *Connector) GetHolding(ctx context.Context, id string, _ ils.Record) ([]ils.Record, error) {
	ppn := stripCheckDigit(id)
	copies, err := c.copies(ctx, []string{ppn})
	if err != nil {
		return nil, err
	}
	out := make([]ils.Record, 0, len(copies[ppn]))
	for i, cp := range copies[ppn] {
		out = append(out, ils.Record{
			"id":           id,
			"item_id":      cp.epn,
			"barcode":      cp.barcode,
			"availability": cp.available(),
			"status":       cp.status(),
			"location":     cp.location,
			"callnumber":   cp.callnumber,
			"number":       i + 1,
			"reserve":      "N",
		})
	}
	return out, nil
}

// GetConfig returns the nested table named function of the backend section.
func (c *Connector) GetConfig(_ context.Context, function, _ string) (ils.Record, error) {
	sub := c.section.Sub(function)
	if sub == nil {
		return ils.Record{}, nil
	}
	return ils.Record(maps.Clone(map[string]any(sub))), nil
}

type account struct {
	addressID string
	iln       string
}

const accountQuery = `SELECT address_id_nr, iln FROM borrower WHERE borrower_bar = ? AND iln = ?`

// account returns the borrower keys of patron. Records produced by
// PatronLogin carry them; bare patron records are looked up by barcode.
func (c *Connector) account(ctx context.Context, patron ils.Record) (account, error) {
	if aid := recordString(patron, "address_id_nr"); aid != "" {
		iln := recordString(patron, "iln")
		if iln == "" {
			iln = c.cfg.ILN
		}
		return account{addressID: aid, iln: iln}, nil
	}
	barcode := patronBarcode(patron)
	if barcode == "" {
		return account{}, ErrUnknownPatron
	}
	rows, err := c.query(ctx, accountQuery, barcode, c.cfg.ILN)
	if err != nil {
		return account{}, fmt.Errorf("query borrower: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return account{}, err
		}
		return account{}, fmt.Errorf("%w %q", ErrUnknownPatron, barcode)
	}
	var acct account
	if err := rows.Scan(&acct.addressID, &acct.iln); err != nil {
		return account{}, fmt.Errorf("scan borrower: %w", err)
	}
	return acct, nil
}

func patronBarcode(patron ils.Record) string {
	if id := recordString(patron, "id"); id != "" {
		return id
	}
	return recordString(patron, "cat_username")
}

// recordString reads a scalar field, formatting numbers the way JSON decoding
// leaves them.
func recordString(r ils.Record, key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
