package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/open-sspm/open-ils/internal/ils"
)

const (
	KindDemo = "demo"
	KindSQL  = "sql"
	KindREST = "rest"
)

const (
	SQLDriverPostgres = "pgx"
	SQLDriverSQLite   = "sqlite"
)

const (
	defaultRESTTimeout = 30 * time.Second
	defaultSQLLang     = "en"
)

// ErrNoDatabase is reported by SQL backends whose section names no database.
var ErrNoDatabase = errors.New("no database")

type SQLConfig struct {
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	ILN          string `json:"iln"`
	Lang         string `json:"lang"`
	CreateSchema bool   `json:"create_schema"`
}

func (c SQLConfig) Normalized() SQLConfig {
	out := c
	out.Driver = strings.ToLower(strings.TrimSpace(out.Driver))
	if out.Driver == "" {
		out.Driver = SQLDriverPostgres
	}
	out.DSN = strings.TrimSpace(out.DSN)
	out.ILN = strings.TrimSpace(out.ILN)
	out.Lang = strings.TrimSpace(out.Lang)
	if out.Lang == "" {
		out.Lang = defaultSQLLang
	}
	return out
}

func (c SQLConfig) Validate() error {
	c = c.Normalized()
	if c.DSN == "" {
		return ErrNoDatabase
	}
	if c.ILN == "" {
		return errors.New("SQL iln is required")
	}
	switch c.Driver {
	case SQLDriverPostgres, SQLDriverSQLite:
	default:
		return fmt.Errorf("SQL driver %q is invalid", c.Driver)
	}
	return nil
}

type RESTConfig struct {
	BaseURL    string   `json:"base_url"`
	Token      string   `json:"token"`
	Operations []string `json:"operations"`
	TimeoutSec int      `json:"timeout_seconds"`
}

func (c RESTConfig) Normalized() RESTConfig {
	out := c
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	out.Token = strings.TrimSpace(out.Token)
	ops := make([]string, 0, len(out.Operations))
	for _, op := range out.Operations {
		if op = strings.TrimSpace(op); op != "" && !slices.Contains(ops, op) {
			ops = append(ops, op)
		}
	}
	out.Operations = ops
	return out
}

func (c RESTConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return defaultRESTTimeout
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c RESTConfig) Validate() error {
	c = c.Normalized()
	if c.BaseURL == "" {
		return errors.New("REST base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("REST base_url must be an http(s) URL")
	}
	for _, name := range c.Operations {
		if _, ok := ils.ParseOperation(name); !ok {
			return fmt.Errorf("REST operation %q is unknown", name)
		}
	}
	return nil
}

// ParsedOperations returns the configured operation list. Names are
// validated by Validate.
func (c RESTConfig) ParsedOperations() []ils.Operation {
	out := make([]ils.Operation, 0, len(c.Operations))
	for _, name := range c.Operations {
		if op, ok := ils.ParseOperation(name); ok {
			out = append(out, op)
		}
	}
	return out
}

func DecodeSQLConfig(section ils.Section) (SQLConfig, error) {
	var cfg SQLConfig
	// ILNs are numeric in most catalog configs.
	if v, ok := section["iln"]; ok {
		switch v.(type) {
		case int, int64, float64:
			section = ils.Section(maps.Clone(section))
			section["iln"] = fmt.Sprint(v)
		}
	}
	return cfg, decodeSection(section, &cfg)
}

func DecodeRESTConfig(section ils.Section) (RESTConfig, error) {
	var cfg RESTConfig
	return cfg, decodeSection(section, &cfg)
}

func MaskSecret(secret string) string {
	s := strings.TrimSpace(secret)
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	tail := s[len(s)-4:]
	prefix := ""
	if idx := strings.Index(s, "_"); idx > 0 && idx <= 6 {
		prefix = s[:idx+1]
	}
	return prefix + "****" + tail
}

// decodeSection maps a configuration section onto dst through its JSON tags.
// Keys without a matching field are ignored.
func decodeSection(section ils.Section, dst any) error {
	if len(section) == 0 {
		return nil
	}
	raw, err := json.Marshal(section)
	if err != nil {
		return err
	}
	return decodeJSON(raw, dst)
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
