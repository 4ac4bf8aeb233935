package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/open-sspm/open-ils/internal/ils"
)

// ErrUnknownPatron is returned by patron operations for patrons the catalog
// does not hold.
var ErrUnknownPatron = errors.New("unknown patron")

const (
	holdInvalid    = "hold_invalid"
	holdPeriodDays = 30
)

// Connector serves a small catalog held in memory. It implements the whole
// operation surface and keeps renewals and holds for its lifetime.
type Connector struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	section ils.Section
	cat     *catalog
}

func New(logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{logger: logger, now: time.Now}
}

func (c *Connector) SetConfig(section ils.Section) error {
	if _, err := parseCatalog(section); err != nil {
		return fmt.Errorf("demo catalog: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.section = section
	return nil
}

func (c *Connector) Init(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat, err := parseCatalog(c.section)
	if err != nil {
		return fmt.Errorf("demo catalog: %w", err)
	}
	c.cat = cat
	c.logger.Debug("demo catalog loaded", "records", len(cat.records), "patrons", len(cat.patrons))
	return nil
}

// loaded returns the catalog with the lock held. Callers release it.
func (c *Connector) loaded() (*catalog, func(), error) {
	c.mu.Lock()
	if c.cat == nil {
		c.mu.Unlock()
		return nil, nil, errors.New("demo catalog not initialized")
	}
	return c.cat, c.mu.Unlock, nil
}

func statusOf(r *record) ils.Record {
	return ils.Record{
		"id":           r.ID,
		"status":       r.Status,
		"availability": r.Status == "Available",
		"location":     r.Location,
		"callnumber":   r.CallNumber,
		"reserve":      "N",
	}
}

func (c *Connector) GetStatus(_ context.Context, id string) (ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	r, ok := cat.records[id]
	if !ok {
		return nil, nil
	}
	return statusOf(r), nil
}

func (c *Connector) GetStatuses(_ context.Context, idList []string) ([]ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]ils.Record, 0, len(idList))
	for _, id := range idList {
		if r, ok := cat.records[id]; ok {
			out = append(out, statusOf(r))
		}
	}
	return out, nil
}

func (c *Connector) GetHolding(_ context.Context, id string, _ ils.Record) ([]ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	r, ok := cat.records[id]
	if !ok {
		return []ils.Record{}, nil
	}
	out := make([]ils.Record, 0, r.Copies)
	for i := range r.Copies {
		item := statusOf(r)
		item["item_id"] = fmt.Sprintf("%s-%d", r.ID, i+1)
		item["number"] = i + 1
		out = append(out, item)
	}
	return out, nil
}

func (c *Connector) GetPurchaseHistory(_ context.Context, id string) ([]ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := []ils.Record{}
	if r, ok := cat.records[id]; ok {
		for _, issue := range r.Issues {
			out = append(out, ils.Record{"issue": issue})
		}
	}
	return out, nil
}

// PatronLogin returns nil for unknown usernames and wrong passwords.
func (c *Connector) PatronLogin(_ context.Context, username, password string) (ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	p := cat.patronOf(ils.Record{"cat_username": username})
	if p == nil || p.Password != password {
		return nil, nil
	}
	return ils.Record{
		"id":           p.ID,
		"firstname":    p.FirstName,
		"lastname":     p.LastName,
		"cat_username": username,
		"cat_password": password,
		"email":        p.Email,
	}, nil
}

func (c *Connector) GetMyProfile(_ context.Context, patron ils.Record) (ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	p := cat.patronOf(patron)
	if p == nil {
		return nil, ErrUnknownPatron
	}
	return ils.Record{
		"firstname": p.FirstName,
		"lastname":  p.LastName,
		"email":     p.Email,
		"phone":     p.Phone,
		"address1":  p.Address,
		"group":     p.Group,
	}, nil
}

// patronRows collects one record per entry of the patron's list.
func patronRows[T any](c *Connector, patron ils.Record, list func(*catalog) []T, owner func(T) string, row func(*catalog, T) ils.Record) ([]ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	p := cat.patronOf(patron)
	if p == nil {
		return nil, ErrUnknownPatron
	}
	out := []ils.Record{}
	for _, entry := range list(cat) {
		if owner(entry) == p.ID {
			out = append(out, row(cat, entry))
		}
	}
	return out, nil
}

func (cat *catalog) title(id string) string {
	if r, ok := cat.records[id]; ok {
		return r.Title
	}
	return ""
}

func (c *Connector) GetMyTransactions(_ context.Context, patron ils.Record) ([]ils.Record, error) {
	return patronRows(c, patron,
		func(cat *catalog) []*loan { return cat.loans },
		func(l *loan) string { return l.Patron },
		func(cat *catalog, l *loan) ils.Record {
			return ils.Record{
				"id":        l.RecordID,
				"item_id":   l.ItemID,
				"duedate":   formatDate(l.Due),
				"renew":     l.Renewals,
				"renewable": l.Renewable,
				"title":     cat.title(l.RecordID),
			}
		})
}

func (c *Connector) GetMyFines(_ context.Context, patron ils.Record) ([]ils.Record, error) {
	return patronRows(c, patron,
		func(cat *catalog) []fine { return cat.fines },
		func(f fine) string { return f.Patron },
		func(cat *catalog, f fine) ils.Record {
			return ils.Record{
				"id":      f.RecordID,
				"amount":  f.Amount,
				"balance": f.Amount,
				"fine":    f.Kind,
				"title":   cat.title(f.RecordID),
			}
		})
}

func (c *Connector) GetMyHolds(_ context.Context, patron ils.Record) ([]ils.Record, error) {
	return patronRows(c, patron,
		func(cat *catalog) []*hold { return cat.holds },
		func(h *hold) string { return h.Patron },
		func(cat *catalog, h *hold) ils.Record {
			return ils.Record{
				"id":       h.RecordID,
				"create":   formatDate(h.Created),
				"expire":   formatDate(h.Expires),
				"location": h.Pickup,
				"title":    cat.title(h.RecordID),
			}
		})
}

func requestRow(cat *catalog, r request) ils.Record {
	return ils.Record{
		"id":     r.RecordID,
		"create": formatDate(r.Created),
		"status": r.Status,
		"title":  cat.title(r.RecordID),
	}
}

func (c *Connector) GetMyStorageRetrievalRequests(_ context.Context, patron ils.Record) ([]ils.Record, error) {
	return patronRows(c, patron,
		func(cat *catalog) []request { return cat.storage },
		func(r request) string { return r.Patron },
		requestRow)
}

func (c *Connector) GetMyILLRequests(_ context.Context, patron ils.Record) ([]ils.Record, error) {
	return patronRows(c, patron,
		func(cat *catalog) []request { return cat.ill },
		func(r request) string { return r.Patron },
		requestRow)
}

// GetRenewDetails returns the renewal key of a checkout, its item id.
func (c *Connector) GetRenewDetails(_ context.Context, checkout ils.Record) (string, error) {
	if item := checkout.String("item_id"); item != "" {
		return item, nil
	}
	return checkout.String("id"), nil
}

// RenewMyItems extends the loans named by details["details"] for
// details["patron"].
func (c *Connector) RenewMyItems(_ context.Context, details ils.Record) (ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	p := cat.patronOf(details.Record("patron"))
	if p == nil {
		return nil, ErrUnknownPatron
	}
	results := []ils.Record{}
	for _, key := range keys(details["details"]) {
		res := ils.Record{"item_id": key, "success": false}
		for _, l := range cat.loans {
			if l.Patron != p.ID || l.ItemID != key {
				continue
			}
			if l.Renewable {
				l.Due = l.Due.Add(cat.renewFor)
				l.Renewals++
				res["success"] = true
				res["new_date"] = formatDate(l.Due)
			} else {
				res["sysMessage"] = "renewal_not_allowed"
			}
			break
		}
		results = append(results, res)
	}
	return ils.Record{"blocks": false, "details": results}, nil
}

func (cat *catalog) holdValid(id string, p *patron) bool {
	r, ok := cat.records[id]
	if !ok || p == nil || !r.Holdable {
		return false
	}
	for _, h := range cat.holds {
		if h.Patron == p.ID && h.RecordID == id {
			return false
		}
	}
	return true
}

func (c *Connector) CheckRequestIsValid(_ context.Context, id string, _ ils.Record, patron ils.Record) (bool, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return false, err
	}
	defer unlock()
	return cat.holdValid(id, cat.patronOf(patron)), nil
}

func (c *Connector) CheckStorageRetrievalRequestIsValid(_ context.Context, id string, _ ils.Record, patron ils.Record) (bool, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return false, err
	}
	defer unlock()
	r, ok := cat.records[id]
	return ok && r.Storage && cat.patronOf(patron) != nil, nil
}

// CheckILLRequestIsValid accepts requests for records held anywhere, as long
// as the patron belongs to this catalog.
func (c *Connector) CheckILLRequestIsValid(_ context.Context, _ string, _ ils.Record, patron ils.Record) (bool, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return false, err
	}
	defer unlock()
	return cat.allowILL && cat.patronOf(patron) != nil, nil
}

// GetNewItems pages through records added within daysOld days, newest
// first, optionally restricted to one fund.
func (c *Connector) GetNewItems(_ context.Context, page, limit, daysOld int, fundID string) (ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()

	cutoff := c.now().AddDate(0, 0, -daysOld)
	var matches []*record
	for _, id := range cat.order {
		r := cat.records[id]
		if r.Added.IsZero() || r.Added.Before(cutoff) {
			continue
		}
		if fundID != "" && r.Fund != fundID {
			continue
		}
		matches = append(matches, r)
	}
	slices.SortStableFunc(matches, func(a, b *record) int { return b.Added.Compare(a.Added) })

	page = max(page, 1)
	if limit <= 0 {
		limit = len(matches)
	}
	results := []any{}
	for _, r := range pageOf(matches, page, limit) {
		results = append(results, map[string]any{"id": r.ID})
	}
	return ils.Record{"count": len(matches), "results": results}, nil
}

func pageOf[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return nil
	}
	return items[start:min(start+limit, len(items))]
}

func (c *Connector) FindReserves(_ context.Context, course, inst, dept string) ([]ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	match := func(want, have string) bool { return want == "" || strings.EqualFold(want, have) }
	out := []ils.Record{}
	for _, r := range cat.reserves {
		if match(course, r.Course) && match(inst, r.Instructor) && match(dept, r.Department) {
			out = append(out, ils.Record{
				"BIB_ID":        r.RecordID,
				"COURSE_ID":     r.Course,
				"INSTRUCTOR_ID": r.Instructor,
				"DEPARTMENT_ID": r.Department,
			})
		}
	}
	return out, nil
}

// GetConfig returns the [config.<function>] table of the section.
func (c *Connector) GetConfig(_ context.Context, function, _ string) (ils.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := c.section.Sub("config").Sub(function)
	if sub == nil {
		return ils.Record{}, nil
	}
	return ils.Record(maps.Clone(map[string]any(sub))), nil
}

func (c *Connector) PlaceHold(_ context.Context, details ils.Record) (ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	p := cat.patronOf(details.Record("patron"))
	id := details.String("id")
	if !cat.holdValid(id, p) {
		return ils.Record{"success": false, "sysMessage": holdInvalid}, nil
	}
	now := c.now()
	h := &hold{
		Patron:   p.ID,
		RecordID: id,
		Created:  now,
		Expires:  now.AddDate(0, 0, holdPeriodDays),
		Pickup:   details.String("pickUpLocation"),
	}
	if h.Pickup == "" {
		h.Pickup = cat.defaultPickup(p)
	}
	cat.holds = append(cat.holds, h)
	return ils.Record{"success": true, "id": id}, nil
}

// CancelHolds removes the patron's holds on the records listed in
// details["details"].
func (c *Connector) CancelHolds(_ context.Context, details ils.Record) (ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	p := cat.patronOf(details.Record("patron"))
	if p == nil {
		return nil, ErrUnknownPatron
	}
	count := 0
	items := []ils.Record{}
	for _, key := range keys(details["details"]) {
		before := len(cat.holds)
		cat.holds = slices.DeleteFunc(cat.holds, func(h *hold) bool {
			return h.Patron == p.ID && h.RecordID == key
		})
		ok := len(cat.holds) < before
		if ok {
			count++
		}
		items = append(items, ils.Record{"id": key, "success": ok})
	}
	return ils.Record{"count": count, "items": items}, nil
}

func (c *Connector) GetPickUpLocations(_ context.Context, _, _ ils.Record) ([]ils.Record, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]ils.Record, 0, len(cat.pickup))
	for _, loc := range cat.pickup {
		out = append(out, ils.Record{"locationID": loc.ID, "locationDisplay": loc.Display})
	}
	return out, nil
}

func (c *Connector) GetDefaultPickUpLocation(_ context.Context, patron, _ ils.Record) (string, error) {
	cat, unlock, err := c.loaded()
	if err != nil {
		return "", err
	}
	defer unlock()
	return cat.defaultPickup(cat.patronOf(patron)), nil
}

func (cat *catalog) defaultPickup(p *patron) string {
	if p != nil && p.Pickup != "" {
		return p.Pickup
	}
	if len(cat.pickup) > 0 {
		return cat.pickup[0].ID
	}
	return ""
}

// keys reads a list of renewal or cancel keys.
func keys(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{list}
	default:
		return nil
	}
}
