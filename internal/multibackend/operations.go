package multibackend

import (
	"context"

	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/ils/ids"
)

// GetStatus returns the status of one record. An identifier that routes to
// no backend yields an empty record.
func (d *Dispatcher) GetStatus(ctx context.Context, id string) (ils.Record, error) {
	t, ok := d.resolveID(id)
	if !ok {
		d.missed(ils.OpGetStatus)
		return ils.Record{}, nil
	}
	rec, err := call(ctx, d, ils.OpGetStatus, t, func(ctx context.Context, c ils.StatusReader) (ils.Record, error) {
		return c.GetStatus(ctx, d.stripID(t, id))
	})
	if err != nil {
		return nil, err
	}
	return d.addRecord(t, rec), nil
}

// GetHolding returns the holdings of a record. patron may be nil.
func (d *Dispatcher) GetHolding(ctx context.Context, id string, patron ils.Record) ([]ils.Record, error) {
	t, ok := d.resolveID(id)
	if !ok {
		d.missed(ils.OpGetHolding)
		return []ils.Record{}, nil
	}
	recs, err := call(ctx, d, ils.OpGetHolding, t, func(ctx context.Context, c ils.HoldingReader) ([]ils.Record, error) {
		return c.GetHolding(ctx, d.stripID(t, id), d.stripRecord(t, patron))
	})
	if err != nil {
		return nil, err
	}
	return d.addRecords(t, recs), nil
}

// GetPurchaseHistory returns the acquisition history of a record.
func (d *Dispatcher) GetPurchaseHistory(ctx context.Context, id string) ([]ils.Record, error) {
	t, ok := d.resolveID(id)
	if !ok {
		d.missed(ils.OpGetPurchaseHistory)
		return []ils.Record{}, nil
	}
	recs, err := call(ctx, d, ils.OpGetPurchaseHistory, t, func(ctx context.Context, c ils.PurchaseHistoryReader) ([]ils.Record, error) {
		return c.GetPurchaseHistory(ctx, d.stripID(t, id))
	})
	if err != nil {
		return nil, err
	}
	return d.addRecords(t, recs), nil
}

// PatronLogin authenticates a patron. The username carries the backend prefix
// under the login delimiter; the returned patron is prefixed the same way.
func (d *Dispatcher) PatronLogin(ctx context.Context, username, password string) (ils.Record, error) {
	t, ok := d.resolveLogin(username)
	if !ok {
		return nil, d.unresolved(ils.OpPatronLogin)
	}
	patron, err := call(ctx, d, ils.OpPatronLogin, t, func(ctx context.Context, c ils.PatronAuthenticator) (ils.Record, error) {
		return c.PatronLogin(ctx, d.stripLogin(t, username), password)
	})
	if err != nil {
		return nil, err
	}
	return d.addRecord(t, patron), nil
}

// GetMyProfile returns the patron's profile, or an empty record when the
// patron routes to no backend.
func (d *Dispatcher) GetMyProfile(ctx context.Context, patron ils.Record) (ils.Record, error) {
	t, ok := d.resolvePatron(patron)
	if !ok {
		d.missed(ils.OpGetMyProfile)
		return ils.Record{}, nil
	}
	profile, err := call(ctx, d, ils.OpGetMyProfile, t, func(ctx context.Context, c ils.ProfileReader) (ils.Record, error) {
		return c.GetMyProfile(ctx, d.stripRecord(t, patron))
	})
	if err != nil {
		return nil, err
	}
	return d.addRecord(t, profile), nil
}

func (d *Dispatcher) GetMyTransactions(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	return patronRecords(ctx, d, ils.OpGetMyTransactions, patron, ils.TransactionReader.GetMyTransactions)
}

func (d *Dispatcher) GetMyFines(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	return patronRecords(ctx, d, ils.OpGetMyFines, patron, ils.FineReader.GetMyFines)
}

func (d *Dispatcher) GetMyHolds(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	return patronRecords(ctx, d, ils.OpGetMyHolds, patron, ils.HoldReader.GetMyHolds)
}

func (d *Dispatcher) GetMyStorageRetrievalRequests(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	return patronRecords(ctx, d, ils.OpGetMyStorageRetrievalRequests, patron, ils.StorageRetrievalRequestReader.GetMyStorageRetrievalRequests)
}

func (d *Dispatcher) GetMyILLRequests(ctx context.Context, patron ils.Record) ([]ils.Record, error) {
	return patronRecords(ctx, d, ils.OpGetMyILLRequests, patron, ils.ILLRequestReader.GetMyILLRequests)
}

// patronRecords runs a patron-scoped list operation. A patron that routes to
// no backend is an error.
func patronRecords[C any](ctx context.Context, d *Dispatcher, op ils.Operation, patron ils.Record, fn func(C, context.Context, ils.Record) ([]ils.Record, error)) ([]ils.Record, error) {
	t, ok := d.resolvePatron(patron)
	if !ok {
		return nil, d.unresolved(op)
	}
	recs, err := call(ctx, d, op, t, func(ctx context.Context, c C) ([]ils.Record, error) {
		return fn(c, ctx, d.stripRecord(t, patron))
	})
	if err != nil {
		return nil, err
	}
	return d.addRecords(t, recs), nil
}

// GetRenewDetails returns the renewal key of a loan, routed by the loan's id.
func (d *Dispatcher) GetRenewDetails(ctx context.Context, checkout ils.Record) (string, error) {
	t, ok := d.resolveID(checkout.String(ids.FieldID))
	if !ok {
		return "", d.unresolved(ils.OpGetRenewDetails)
	}
	details, err := call(ctx, d, ils.OpGetRenewDetails, t, func(ctx context.Context, c ils.RenewDetailsReader) (string, error) {
		return c.GetRenewDetails(ctx, d.stripRecord(t, checkout))
	})
	if err != nil {
		return "", err
	}
	return d.addID(t, details), nil
}

// renewFields adds the renewal key list to the identifier fields.
var renewFields = []string{ids.FieldID, ids.FieldCatUsername, "details"}

// RenewMyItems renews loans. details carries the patron under "patron" and
// the renewal keys under "details".
func (d *Dispatcher) RenewMyItems(ctx context.Context, details ils.Record) (ils.Record, error) {
	t, ok := d.resolveParams(details)
	if !ok {
		return nil, d.unresolved(ils.OpRenewMyItems)
	}
	res, err := call(ctx, d, ils.OpRenewMyItems, t, func(ctx context.Context, c ils.Renewer) (ils.Record, error) {
		return c.RenewMyItems(ctx, d.stripRecord(t, details, renewFields...))
	})
	if err != nil {
		return nil, err
	}
	return d.addRecord(t, res), nil
}

// CheckRequestIsValid reports whether the patron may place a hold on id. The
// record and the patron must live in the same backend.
func (d *Dispatcher) CheckRequestIsValid(ctx context.Context, id string, data, patron ils.Record) (bool, error) {
	return checkSameBackend(ctx, d, ils.OpCheckRequestIsValid, id, data, patron, ils.HoldValidator.CheckRequestIsValid)
}

// CheckStorageRetrievalRequestIsValid is CheckRequestIsValid for storage
// retrieval requests.
func (d *Dispatcher) CheckStorageRetrievalRequestIsValid(ctx context.Context, id string, data, patron ils.Record) (bool, error) {
	return checkSameBackend(ctx, d, ils.OpCheckStorageRetrievalRequestIsValid, id, data, patron, ils.StorageRetrievalValidator.CheckStorageRetrievalRequestIsValid)
}

func checkWith[C any](ctx context.Context, d *Dispatcher, op ils.Operation, t Target, id string, data, patron ils.Record, fn func(C, context.Context, string, ils.Record, ils.Record) (bool, error)) (bool, error) {
	return call(ctx, d, op, t, func(ctx context.Context, c C) (bool, error) {
		return fn(c, ctx, d.stripID(t, id), d.stripRecord(t, data), patron)
	})
}

func checkSameBackend[C any](ctx context.Context, d *Dispatcher, op ils.Operation, id string, data, patron ils.Record, fn func(C, context.Context, string, ils.Record, ils.Record) (bool, error)) (bool, error) {
	t, ok := d.resolveID(id)
	pt, pok := d.resolvePatron(patron)
	if !ok || !pok {
		d.missed(op)
		return false, nil
	}
	if !sameBackend(t, pt) {
		d.logger.Debug("request crosses backends", "operation", op, "record_backend", t.Backend.Name, "patron_backend", pt.Backend.Name)
		return false, nil
	}
	return checkWith(ctx, d, op, t, id, data, d.stripRecord(pt, patron), fn)
}

// CheckILLRequestIsValid reports whether an interlibrary loan request is
// valid. The patron may belong to another backend and is passed on with its
// prefix intact so the record's backend can identify the patron's home.
func (d *Dispatcher) CheckILLRequestIsValid(ctx context.Context, id string, data, patron ils.Record) (bool, error) {
	t, ok := d.resolveID(id)
	if !ok {
		return false, d.unresolved(ils.OpCheckILLRequestIsValid)
	}
	if _, ok := d.resolvePatron(patron); !ok {
		return false, d.unresolved(ils.OpCheckILLRequestIsValid)
	}
	return checkWith(ctx, d, ils.OpCheckILLRequestIsValid, t, id, data, patron, ils.ILLValidator.CheckILLRequestIsValid)
}

// GetNewItems lists recent acquisitions of the default backend. Without a
// default backend the result is empty.
func (d *Dispatcher) GetNewItems(ctx context.Context, page, limit, daysOld int, fundID string) (ils.Record, error) {
	backend, ok := d.backends.Default()
	if !ok {
		d.missed(ils.OpGetNewItems)
		return ils.Record{}, nil
	}
	return call(ctx, d, ils.OpGetNewItems, Target{Backend: backend}, func(ctx context.Context, c ils.NewItemsReader) (ils.Record, error) {
		return c.GetNewItems(ctx, page, limit, daysOld, fundID)
	})
}

// FindReserves searches course reserves of the default backend.
func (d *Dispatcher) FindReserves(ctx context.Context, course, inst, dept string) ([]ils.Record, error) {
	backend, ok := d.backends.Default()
	if !ok {
		d.missed(ils.OpFindReserves)
		return []ils.Record{}, nil
	}
	recs, err := call(ctx, d, ils.OpFindReserves, Target{Backend: backend}, func(ctx context.Context, c ils.ReservesFinder) ([]ils.Record, error) {
		return c.FindReserves(ctx, course, inst, dept)
	})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []ils.Record{}
	}
	return recs, nil
}

// GetConfig returns the configuration block function of the backend that id
// routes to, or an empty record.
func (d *Dispatcher) GetConfig(ctx context.Context, function, id string) (ils.Record, error) {
	t, ok := d.resolveID(id)
	if !ok {
		d.missed(ils.OpGetConfig)
		return ils.Record{}, nil
	}
	cfg, err := call(ctx, d, ils.OpGetConfig, t, func(ctx context.Context, c ils.ConfigReader) (ils.Record, error) {
		return c.GetConfig(ctx, function, d.stripID(t, id))
	})
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = ils.Record{}
	}
	return cfg, nil
}
