package demo

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/open-sspm/open-ils/internal/ils"
)

const dateLayout = "2006-01-02"

type record struct {
	ID         string
	Title      string
	Status     string
	Location   string
	CallNumber string
	Copies     int
	Holdable   bool
	Storage    bool
	Fund       string
	Added      time.Time
	Issues     []string
}

type patron struct {
	ID        string
	Username  string
	Password  string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
	Group     string
	Pickup    string
}

type loan struct {
	Patron    string
	RecordID  string
	ItemID    string
	Due       time.Time
	Renewals  int
	Renewable bool
}

type hold struct {
	Patron   string
	RecordID string
	Created  time.Time
	Expires  time.Time
	Pickup   string
}

type fine struct {
	Patron   string
	RecordID string
	Amount   int
	Kind     string
}

type request struct {
	Patron   string
	RecordID string
	Status   string
	Created  time.Time
}

type reserve struct {
	RecordID   string
	Course     string
	Instructor string
	Department string
}

type location struct {
	ID      string
	Display string
}

// catalog is the state of one demo backend.
type catalog struct {
	records  map[string]*record
	order    []string
	patrons  map[string]*patron
	loans    []*loan
	holds    []*hold
	fines    []fine
	storage  []request
	ill      []request
	reserves []reserve
	pickup   []location
	config   ils.Section
	renewFor time.Duration
	allowILL bool
}

// parseCatalog reads the catalog tables of a demo section. Every table is
// optional.
func parseCatalog(section ils.Section) (*catalog, error) {
	c := &catalog{
		records:  make(map[string]*record),
		patrons:  make(map[string]*patron),
		config:   section.Sub("config"),
		renewFor: time.Duration(section.Int("renewal_days", 14)) * 24 * time.Hour,
		allowILL: boolValue(section["ill"], true),
	}

	for i, t := range tables(section, "records") {
		id := t.String("id")
		if id == "" {
			return nil, fmt.Errorf("records[%d]: id is required", i)
		}
		if _, dup := c.records[id]; dup {
			return nil, fmt.Errorf("records[%d]: duplicate id %q", i, id)
		}
		added, err := parseDate(t["added"])
		if err != nil {
			return nil, fmt.Errorf("records[%d]: added: %w", i, err)
		}
		status := t.String("status")
		if status == "" {
			status = "Available"
		}
		c.records[id] = &record{
			ID:         id,
			Title:      t.String("title"),
			Status:     status,
			Location:   t.String("location"),
			CallNumber: t.String("callnumber"),
			Copies:     max(ils.Section(t).Int("copies", 1), 1),
			Holdable:   boolValue(t["holdable"], true),
			Storage:    boolValue(t["storage"], false),
			Fund:       t.String("fund"),
			Added:      added,
			Issues:     ils.Section(t).Strings("issues"),
		}
		c.order = append(c.order, id)
	}

	for i, t := range tables(section, "patrons") {
		p := &patron{
			ID:        t.String("id"),
			Username:  t.String("username"),
			Password:  t.String("password"),
			FirstName: t.String("firstname"),
			LastName:  t.String("lastname"),
			Email:     t.String("email"),
			Phone:     t.String("phone"),
			Address:   t.String("address"),
			Group:     t.String("group"),
			Pickup:    t.String("pickup"),
		}
		if p.ID == "" {
			p.ID = p.Username
		}
		if p.ID == "" {
			return nil, fmt.Errorf("patrons[%d]: id or username is required", i)
		}
		if p.Username == "" {
			p.Username = p.ID
		}
		c.patrons[p.ID] = p
	}

	for i, t := range tables(section, "loans") {
		due, err := parseDate(t["duedate"])
		if err != nil {
			return nil, fmt.Errorf("loans[%d]: duedate: %w", i, err)
		}
		l := &loan{
			Patron:    t.String("patron"),
			RecordID:  t.String("id"),
			ItemID:    t.String("item_id"),
			Due:       due,
			Renewals:  ils.Section(t).Int("renewals", 0),
			Renewable: boolValue(t["renewable"], true),
		}
		if l.ItemID == "" {
			l.ItemID = l.RecordID + "-" + strconv.Itoa(i+1)
		}
		c.loans = append(c.loans, l)
	}

	for i, t := range tables(section, "holds") {
		created, err := parseDate(t["create"])
		if err != nil {
			return nil, fmt.Errorf("holds[%d]: create: %w", i, err)
		}
		expires, err := parseDate(t["expire"])
		if err != nil {
			return nil, fmt.Errorf("holds[%d]: expire: %w", i, err)
		}
		c.holds = append(c.holds, &hold{
			Patron:   t.String("patron"),
			RecordID: t.String("id"),
			Created:  created,
			Expires:  expires,
			Pickup:   t.String("location"),
		})
	}

	for _, t := range tables(section, "fines") {
		c.fines = append(c.fines, fine{
			Patron:   t.String("patron"),
			RecordID: t.String("id"),
			Amount:   ils.Section(t).Int("amount", 0),
			Kind:     t.String("fine"),
		})
	}

	for _, key := range []string{"storage_requests", "ill_requests"} {
		for i, t := range tables(section, key) {
			created, err := parseDate(t["create"])
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: create: %w", key, i, err)
			}
			req := request{
				Patron:   t.String("patron"),
				RecordID: t.String("id"),
				Status:   t.String("status"),
				Created:  created,
			}
			if key == "ill_requests" {
				c.ill = append(c.ill, req)
			} else {
				c.storage = append(c.storage, req)
			}
		}
	}

	for _, t := range tables(section, "reserves") {
		c.reserves = append(c.reserves, reserve{
			RecordID:   t.String("id"),
			Course:     t.String("course"),
			Instructor: t.String("instructor"),
			Department: t.String("department"),
		})
	}

	for _, t := range tables(section, "pickup_locations") {
		loc := location{ID: t.String("id"), Display: t.String("display")}
		if loc.Display == "" {
			loc.Display = loc.ID
		}
		c.pickup = append(c.pickup, loc)
	}
	return c, nil
}

func (c *catalog) patronOf(r ils.Record) *patron {
	if r == nil {
		return nil
	}
	if p, ok := c.patrons[r.String("id")]; ok {
		return p
	}
	username := r.String("cat_username")
	for _, p := range c.patrons {
		if username != "" && p.Username == username {
			return p
		}
	}
	return nil
}

// tables returns the array of tables at key. TOML and JSON decoding both
// produce []any of maps.
func tables(section ils.Section, key string) []ils.Record {
	switch v := section[key].(type) {
	case []map[string]any:
		out := make([]ils.Record, 0, len(v))
		for _, m := range v {
			out = append(out, ils.Record(m))
		}
		return out
	case []ils.Record:
		return v
	case []any:
		out := make([]ils.Record, 0, len(v))
		for _, item := range v {
			switch m := item.(type) {
			case map[string]any:
				out = append(out, ils.Record(m))
			case ils.Record:
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func boolValue(v any, def bool) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// parseDate accepts "2006-01-02" strings, time values and TOML local dates.
func parseDate(v any) (time.Time, error) {
	var s string
	switch d := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return d, nil
	case string:
		s = d
	case fmt.Stringer:
		s = d.String()
	default:
		return time.Time{}, fmt.Errorf("unsupported date value %T", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
