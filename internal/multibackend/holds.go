package multibackend

import (
	"context"
	"slices"

	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/ils/ids"
)

// HoldWrongLibrary is the system message returned when a hold is placed on a
// record of another backend than the patron's.
const HoldWrongLibrary = "hold_wrong_library"

// GetLoginDrivers lists, in name order, the backends patrons can log in to.
func (d *Dispatcher) GetLoginDrivers() []string {
	var out []string
	for _, backend := range d.backends.All() {
		caps, _, ok := d.registry.Capabilities(backend.Kind)
		if ok && caps.Has(ils.OpPatronLogin) {
			out = append(out, backend.Name)
		}
	}
	return out
}

// GetDefaultLoginDriver returns the default backend when patrons can log in to
// it, otherwise the first login backend, or "".
func (d *Dispatcher) GetDefaultLoginDriver() string {
	drivers := d.GetLoginDrivers()
	if def, ok := d.backends.Default(); ok && slices.Contains(drivers, def.Name) {
		return def.Name
	}
	if len(drivers) > 0 {
		return drivers[0]
	}
	return ""
}

// PlaceHold places a hold for details["patron"]. A record of another backend
// is refused with a HoldWrongLibrary response rather than an error.
func (d *Dispatcher) PlaceHold(ctx context.Context, details ils.Record) (ils.Record, error) {
	pt, ok := d.resolvePatron(details.Record("patron"))
	if !ok {
		return nil, d.unresolved(ils.OpPlaceHold)
	}
	if id := details.String(ids.FieldID); id != "" {
		if t, ok := d.resolveID(id); ok && !sameBackend(t, pt) {
			d.logger.Debug("hold crosses backends", "record_backend", t.Backend.Name, "patron_backend", pt.Backend.Name)
			return ils.Record{"success": false, "sysMessage": HoldWrongLibrary}, nil
		}
	}
	res, err := call(ctx, d, ils.OpPlaceHold, pt, func(ctx context.Context, c ils.HoldPlacer) (ils.Record, error) {
		return c.PlaceHold(ctx, d.stripRecord(pt, details))
	})
	if err != nil {
		return nil, err
	}
	return d.addRecord(pt, res), nil
}

// CancelHolds cancels holds for details["patron"]. details["details"] lists
// the cancel keys of the holds.
func (d *Dispatcher) CancelHolds(ctx context.Context, details ils.Record) (ils.Record, error) {
	pt, ok := d.resolveParams(details)
	if !ok {
		return nil, d.unresolved(ils.OpCancelHolds)
	}
	res, err := call(ctx, d, ils.OpCancelHolds, pt, func(ctx context.Context, c ils.HoldCanceller) (ils.Record, error) {
		return c.CancelHolds(ctx, d.stripRecord(pt, details, renewFields...))
	})
	if err != nil {
		return nil, err
	}
	return d.addRecord(pt, res), nil
}

// GetPickUpLocations lists the pickup locations of the patron's backend.
// Location identifiers are backend-scoped and returned as is.
func (d *Dispatcher) GetPickUpLocations(ctx context.Context, patron, details ils.Record) ([]ils.Record, error) {
	pt, ok := d.resolvePatron(patron)
	if !ok {
		return nil, d.unresolved(ils.OpGetPickUpLocations)
	}
	locations, err := call(ctx, d, ils.OpGetPickUpLocations, pt, func(ctx context.Context, c ils.PickUpLocationReader) ([]ils.Record, error) {
		return c.GetPickUpLocations(ctx, d.stripRecord(pt, patron), d.stripRecord(pt, details))
	})
	if err != nil {
		return nil, err
	}
	if locations == nil {
		locations = []ils.Record{}
	}
	return locations, nil
}

// GetDefaultPickUpLocation returns the patron's default pickup location.
func (d *Dispatcher) GetDefaultPickUpLocation(ctx context.Context, patron, details ils.Record) (string, error) {
	pt, ok := d.resolvePatron(patron)
	if !ok {
		return "", d.unresolved(ils.OpGetDefaultPickUpLocation)
	}
	return call(ctx, d, ils.OpGetDefaultPickUpLocation, pt, func(ctx context.Context, c ils.DefaultPickUpLocationReader) (string, error) {
		return c.GetDefaultPickUpLocation(ctx, d.stripRecord(pt, patron), d.stripRecord(pt, details))
	})
}
