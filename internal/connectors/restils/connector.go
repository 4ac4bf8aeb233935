package restils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/open-sspm/open-ils/internal/connectors/configstore"
	"github.com/open-sspm/open-ils/internal/ils"
)

// Connector forwards catalog operations to a JSON service. Which operations
// are available is only known once the service has been asked, so the
// connector reports them through SupportsOperation.
type Connector struct {
	logger *slog.Logger
	cfg    configstore.RESTConfig
	client *Client

	mu  sync.RWMutex
	ops map[ils.Operation]bool
}

func New(logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{logger: logger}
}

func (c *Connector) SetConfig(section ils.Section) error {
	cfg, err := configstore.DecodeRESTConfig(section)
	if err != nil {
		return fmt.Errorf("decode rest section: %w", err)
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.client = NewClient(cfg.BaseURL, cfg.Token, cfg.Timeout())
	return nil
}

// Init settles the operation set, from the section when it lists
// operations and from GET <base>/capabilities otherwise.
func (c *Connector) Init(ctx context.Context) error {
	if c.client == nil {
		return errors.New("rest connector is not configured")
	}
	ops := make(map[ils.Operation]bool)
	if configured := c.cfg.ParsedOperations(); len(configured) > 0 {
		for _, op := range configured {
			ops[op] = true
		}
	} else {
		names, err := c.client.Capabilities(ctx)
		if err != nil {
			return fmt.Errorf("fetch capabilities: %w", err)
		}
		for _, name := range names {
			op, ok := ils.ParseOperation(name)
			if !ok {
				c.logger.Debug("ignoring unknown operation", "operation", name)
				continue
			}
			ops[op] = true
		}
	}
	c.mu.Lock()
	c.ops = ops
	c.mu.Unlock()
	c.logger.Debug("rest catalog ready", "base_url", c.cfg.BaseURL, "token", configstore.MaskSecret(c.cfg.Token), "operations", len(ops))
	return nil
}

func (c *Connector) SupportsOperation(op ils.Operation) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if op == ils.OpGetStatuses && c.ops[ils.OpGetStatus] {
		return true
	}
	return c.ops[op]
}

func (c *Connector) call(ctx context.Context, op ils.Operation, args map[string]any) (gjson.Result, error) {
	if c.client == nil {
		return gjson.Result{}, errors.New("rest connector is not configured")
	}
	return c.client.Call(ctx, op, args)
}

func (c *Connector) record(ctx context.Context, op ils.Operation, args map[string]any) (ils.Record, error) {
	res, err := c.call(ctx, op, args)
	if err != nil {
		return nil, err
	}
	return asRecord(res), nil
}

func (c *Connector) records(ctx context.Context, op ils.Operation, args map[string]any) ([]ils.Record, error) {
	res, err := c.call(ctx, op, args)
	if err != nil {
		return nil, err
	}
	return asRecords(res), nil
}

func (c *Connector) flag(ctx context.Context, op ils.Operation, args map[string]any) (bool, error) {
	res, err := c.call(ctx, op, args)
	if err != nil {
		return false, err
	}
	return res.Bool(), nil
}

func asRecord(res gjson.Result) ils.Record {
	if !res.IsObject() {
		return nil
	}
	m, _ := res.Value().(map[string]any)
	return ils.Record(m)
}

func asRecords(res gjson.Result) []ils.Record {
	out := []ils.Record{}
	if !res.IsArray() {
		return out
	}
	for _, item := range res.Array() {
		if rec := asRecord(item); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

func (c *Connector) GetStatus(ctx context.Context, id string) (ils.Record, error) {
	return c.record(ctx, ils.OpGetStatus, map[string]any{"id": id})
}

// GetStatuses uses the batch endpoint when the service has one and falls
// back to one call per id.
func (c *Connector) GetStatuses(ctx context.Context, idList []string) ([]ils.Record, error) {
	c.mu.RLock()
	batch := c.ops[ils.OpGetStatuses]
	c.mu.RUnlock()
	if batch {
		return c.records(ctx, ils.OpGetStatuses, map[string]any{"ids": idList})
	}
	out := make([]ils.Record, 0, len(idList))
	for _, id := range idList {
		rec, err := c.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (c *Connector) GetHolding(ctx context.Context, id string, patron ils.Record) ([]ils.Record, error) {
	return c.records(ctx, ils.OpGetHolding, map[string]any{"id": id, "patron": patron})
}

func (c *Connector) GetPurchaseHistory(ctx context.Context, id string) ([]ils.Record, error) {
	return c.records(ctx, ils.OpGetPurchaseHistory, map[string]any{"id": id})
}

func (c *Connector) PatronLogin(ctx context.Context, username, password string) (ils.Record, error) {
	return c.record(ctx, ils.OpPatronLogin, map[string]any{"username": username, "password": password})
}

func (c *Connector) GetMyProfile(ctx context.Context, patron ils.Record) (ils.Record, error) {
	return c.record(ctx, ils.OpGetMyProfile, map[string]any{"patron": patron})
}

func (c *Connector) GetMyTransactions(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	return c.records(ctx, ils.OpGetMyTransactions, map[string]any{"patron": patron})
}

func (c *Connector) GetRenewDetails(ctx context.Context, checkout ils.Record) (string, error) {
	res, err := c.call(ctx, ils.OpGetRenewDetails, map[string]any{"checkout": checkout})
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

func (c *Connector) RenewMyItems(ctx context.Context, details ils.Record) (ils.Record, error) {
	return c.record(ctx, ils.OpRenewMyItems, map[string]any{"details": details})
}

func (c *Connector) GetMyFines(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	return c.records(ctx, ils.OpGetMyFines, map[string]any{"patron": patron})
}

func (c *Connector) GetMyHolds(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	return c.records(ctx, ils.OpGetMyHolds, map[string]any{"patron": patron})
}

func (c *Connector) GetMyStorageRetrievalRequests(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	return c.records(ctx, ils.OpGetMyStorageRetrievalRequests, map[string]any{"patron": patron})
}

func (c *Connector) GetMyILLRequests(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	return c.records(ctx, ils.OpGetMyILLRequests, map[string]any{"patron": patron})
}

func requestArgs(id string, data, patron ils.Record) map[string]any {
	return map[string]any{"id": id, "data": data, "patron": patron}
}

func (c *Connector) CheckRequestIsValid(ctx context.Context, id string, data, patron ils.Record) (bool, error) {
	return c.flag(ctx, ils.OpCheckRequestIsValid, requestArgs(id, data, patron))
}

func (c *Connector) CheckStorageRetrievalRequestIsValid(ctx context.Context, id string, data, patron ils.Record) (bool, error) {
	return c.flag(ctx, ils.OpCheckStorageRetrievalRequestIsValid, requestArgs(id, data, patron))
}

func (c *Connector) CheckILLRequestIsValid(ctx context.Context, id string, data, patron ils.Record) (bool, error) {
	return c.flag(ctx, ils.OpCheckILLRequestIsValid, requestArgs(id, data, patron))
}

func (c *Connector) GetNewItems(ctx context.Context, page, limit, daysOld int, fundID string) (ils.Record, error) {
	return c.record(ctx, ils.OpGetNewItems, map[string]any{
		"page":     page,
		"limit":    limit,
		"days_old": daysOld,
		"fund_id":  fundID,
	})
}

func (c *Connector) FindReserves(ctx context.Context, course, inst, dept string) ([]ils.Record, error) {
	return c.records(ctx, ils.OpFindReserves, map[string]any{
		"course":     course,
		"instructor": inst,
		"department": dept,
	})
}

func (c *Connector) GetConfig(ctx context.Context, function, id string) (ils.Record, error) {
	return c.record(ctx, ils.OpGetConfig, map[string]any{"function": function, "id": id})
}

func (c *Connector) PlaceHold(ctx context.Context, details ils.Record) (ils.Record, error) {
	return c.record(ctx, ils.OpPlaceHold, map[string]any{"details": details})
}

func (c *Connector) CancelHolds(ctx context.Context, details ils.Record) (ils.Record, error) {
	return c.record(ctx, ils.OpCancelHolds, map[string]any{"details": details})
}

func (c *Connector) GetPickUpLocations(ctx context.Context, patron, details ils.Record) ([]ils.Record, error) {
	return c.records(ctx, ils.OpGetPickUpLocations, map[string]any{"patron": patron, "details": details})
}

func (c *Connector) GetDefaultPickUpLocation(ctx context.Context, patron, details ils.Record) (string, error) {
	res, err := c.call(ctx, ils.OpGetDefaultPickUpLocation, map[string]any{"patron": patron, "details": details})
	if err != nil {
		return "", err
	}
	return res.String(), nil
}
