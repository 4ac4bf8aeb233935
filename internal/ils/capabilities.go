package ils

import (
	"context"
	"slices"
	"strings"
)

// Operation names one entry of the uniform catalog surface.
type Operation string

const (
	OpGetStatus                           Operation = "getStatus"
	OpGetStatuses                         Operation = "getStatuses"
	OpGetHolding                          Operation = "getHolding"
	OpGetPurchaseHistory                  Operation = "getPurchaseHistory"
	OpPatronLogin                         Operation = "patronLogin"
	OpGetMyProfile                        Operation = "getMyProfile"
	OpGetMyTransactions                   Operation = "getMyTransactions"
	OpGetRenewDetails                     Operation = "getRenewDetails"
	OpRenewMyItems                        Operation = "renewMyItems"
	OpGetMyFines                          Operation = "getMyFines"
	OpGetMyHolds                          Operation = "getMyHolds"
	OpGetMyStorageRetrievalRequests       Operation = "getMyStorageRetrievalRequests"
	OpGetMyILLRequests                    Operation = "getMyILLRequests"
	OpCheckRequestIsValid                 Operation = "checkRequestIsValid"
	OpCheckStorageRetrievalRequestIsValid Operation = "checkStorageRetrievalRequestIsValid"
	OpCheckILLRequestIsValid              Operation = "checkILLRequestIsValid"
	OpGetNewItems                         Operation = "getNewItems"
	OpFindReserves                        Operation = "findReserves"
	OpGetConfig                           Operation = "getConfig"
	OpPlaceHold                           Operation = "placeHold"
	OpCancelHolds                         Operation = "cancelHolds"
	OpGetPickUpLocations                  Operation = "getPickUpLocations"
	OpGetDefaultPickUpLocation            Operation = "getDefaultPickUpLocation"
)

type (
	StatusReader interface {
		GetStatus(ctx context.Context, id string) (Record, error)
	}
	StatusesReader interface {
		GetStatuses(ctx context.Context, ids []string) ([]Record, error)
	}
	HoldingReader interface {
		GetHolding(ctx context.Context, id string, patron Record) ([]Record, error)
	}
	PurchaseHistoryReader interface {
		GetPurchaseHistory(ctx context.Context, id string) ([]Record, error)
	}
	PatronAuthenticator interface {
		PatronLogin(ctx context.Context, username, password string) (Record, error)
	}
	ProfileReader interface {
		GetMyProfile(ctx context.Context, patron Record) (Record, error)
	}
	TransactionReader interface {
		GetMyTransactions(ctx context.Context, patron Record) ([]Record, error)
	}
	RenewDetailsReader interface {
		GetRenewDetails(ctx context.Context, checkout Record) (string, error)
	}
	Renewer interface {
		RenewMyItems(ctx context.Context, details Record) (Record, error)
	}
	FineReader interface {
		GetMyFines(ctx context.Context, patron Record) ([]Record, error)
	}
	HoldReader interface {
		GetMyHolds(ctx context.Context, patron Record) ([]Record, error)
	}
	StorageRetrievalRequestReader interface {
		GetMyStorageRetrievalRequests(ctx context.Context, patron Record) ([]Record, error)
	}
	ILLRequestReader interface {
		GetMyILLRequests(ctx context.Context, patron Record) ([]Record, error)
	}
	HoldValidator interface {
		CheckRequestIsValid(ctx context.Context, id string, data, patron Record) (bool, error)
	}
	StorageRetrievalValidator interface {
		CheckStorageRetrievalRequestIsValid(ctx context.Context, id string, data, patron Record) (bool, error)
	}
	ILLValidator interface {
		CheckILLRequestIsValid(ctx context.Context, id string, data, patron Record) (bool, error)
	}
	NewItemsReader interface {
		GetNewItems(ctx context.Context, page, limit, daysOld int, fundID string) (Record, error)
	}
	ReservesFinder interface {
		FindReserves(ctx context.Context, course, inst, dept string) ([]Record, error)
	}
	ConfigReader interface {
		GetConfig(ctx context.Context, function, id string) (Record, error)
	}
	HoldPlacer interface {
		PlaceHold(ctx context.Context, details Record) (Record, error)
	}
	HoldCanceller interface {
		CancelHolds(ctx context.Context, details Record) (Record, error)
	}
	PickUpLocationReader interface {
		GetPickUpLocations(ctx context.Context, patron, details Record) ([]Record, error)
	}
	DefaultPickUpLocationReader interface {
		GetDefaultPickUpLocation(ctx context.Context, patron, details Record) (string, error)
	}
)

var capabilityChecks = []struct {
	op  Operation
	has func(any) bool
}{
	{OpGetStatus, implements[StatusReader]},
	{OpGetStatuses, func(c any) bool { return implements[StatusesReader](c) || implements[StatusReader](c) }},
	{OpGetHolding, implements[HoldingReader]},
	{OpGetPurchaseHistory, implements[PurchaseHistoryReader]},
	{OpPatronLogin, implements[PatronAuthenticator]},
	{OpGetMyProfile, implements[ProfileReader]},
	{OpGetMyTransactions, implements[TransactionReader]},
	{OpGetRenewDetails, implements[RenewDetailsReader]},
	{OpRenewMyItems, implements[Renewer]},
	{OpGetMyFines, implements[FineReader]},
	{OpGetMyHolds, implements[HoldReader]},
	{OpGetMyStorageRetrievalRequests, implements[StorageRetrievalRequestReader]},
	{OpGetMyILLRequests, implements[ILLRequestReader]},
	{OpCheckRequestIsValid, implements[HoldValidator]},
	{OpCheckStorageRetrievalRequestIsValid, implements[StorageRetrievalValidator]},
	{OpCheckILLRequestIsValid, implements[ILLValidator]},
	{OpGetNewItems, implements[NewItemsReader]},
	{OpFindReserves, implements[ReservesFinder]},
	{OpGetConfig, implements[ConfigReader]},
	{OpPlaceHold, implements[HoldPlacer]},
	{OpCancelHolds, implements[HoldCanceller]},
	{OpGetPickUpLocations, implements[PickUpLocationReader]},
	{OpGetDefaultPickUpLocation, implements[DefaultPickUpLocationReader]},
}

func implements[T any](c any) bool {
	_, ok := c.(T)
	return ok
}

// Operations returns every operation of the catalog surface in declaration order.
func Operations() []Operation {
	out := make([]Operation, 0, len(capabilityChecks))
	for _, check := range capabilityChecks {
		out = append(out, check.op)
	}
	return out
}

// ParseOperation matches a name case-insensitively against the catalog surface.
func ParseOperation(name string) (Operation, bool) {
	name = strings.TrimSpace(name)
	for _, check := range capabilityChecks {
		if strings.EqualFold(string(check.op), name) {
			return check.op, true
		}
	}
	return "", false
}

// Capabilities is the set of operations a connector type declares.
type Capabilities map[Operation]struct{}

// Has reports whether op is declared.
func (c Capabilities) Has(op Operation) bool {
	_, ok := c[op]
	return ok
}

// List returns the declared operations sorted by name.
func (c Capabilities) List() []Operation {
	out := make([]Operation, 0, len(c))
	for op := range c {
		out = append(out, op)
	}
	slices.Sort(out)
	return out
}

// CapabilitiesOf derives the static capability set of a connector from the
// operation interfaces it implements.
func CapabilitiesOf(conn any) Capabilities {
	caps := make(Capabilities)
	if conn == nil {
		return caps
	}
	for _, check := range capabilityChecks {
		if check.has(conn) {
			caps[check.op] = struct{}{}
		}
	}
	return caps
}
