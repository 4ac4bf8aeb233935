package multibackend

import (
	"github.com/open-sspm/open-ils/internal/connectors/registry"
	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/ils/ids"
)

// Target is the backend a call is routed to. Prefixed is false when the
// backend was chosen as the default for a value that named no known backend;
// such values travel to the connector and back without prefix translation.
type Target struct {
	Backend  registry.Backend
	Prefixed bool
}

type candidate struct {
	value string
	field string
}

// resolve picks the first candidate whose prefix names a declared backend,
// falling back to the default backend.
func (d *Dispatcher) resolve(cands ...candidate) (Target, bool) {
	for _, c := range cands {
		if c.value == "" {
			continue
		}
		if src := d.codec.Source(c.value, c.field); src != "" {
			if backend, ok := d.backends.Lookup(src); ok {
				return Target{Backend: backend, Prefixed: true}, true
			}
		}
	}
	if backend, ok := d.backends.Default(); ok {
		return Target{Backend: backend}, true
	}
	return Target{}, false
}

func (d *Dispatcher) resolveID(id string) (Target, bool) {
	return d.resolve(candidate{value: id, field: ids.FieldID})
}

func (d *Dispatcher) resolveLogin(username string) (Target, bool) {
	return d.resolve(candidate{value: username, field: ids.FieldCatUsername})
}

func (d *Dispatcher) resolvePatron(patron ils.Record) (Target, bool) {
	return d.resolve(patronCandidates(patron)...)
}

// resolveParams routes a parameter record that carries the patron under
// "patron", falling back to its own identifier fields.
func (d *Dispatcher) resolveParams(params ils.Record) (Target, bool) {
	cands := patronCandidates(params.Record("patron"))
	cands = append(cands, patronCandidates(params)...)
	return d.resolve(cands...)
}

// resolveAny routes loosely typed probe parameters: identifier strings,
// patron records and parameter records.
func (d *Dispatcher) resolveAny(params []any) (Target, bool) {
	var cands []candidate
	for _, p := range params {
		switch v := p.(type) {
		case string:
			cands = append(cands, candidate{value: v, field: ids.FieldID})
		case ils.Record:
			cands = append(cands, patronCandidates(v.Record("patron"))...)
			cands = append(cands, patronCandidates(v)...)
		case map[string]any:
			rec := ils.Record(v)
			cands = append(cands, patronCandidates(rec.Record("patron"))...)
			cands = append(cands, patronCandidates(rec)...)
		case []ils.Record:
			for _, rec := range v {
				cands = append(cands, patronCandidates(rec)...)
			}
		case []any:
			nested, ok := d.resolveAny(v)
			if ok && nested.Prefixed {
				return nested, true
			}
		}
	}
	return d.resolve(cands...)
}

func patronCandidates(patron ils.Record) []candidate {
	if patron == nil {
		return nil
	}
	return []candidate{
		{value: patron.String(ids.FieldCatUsername), field: ids.FieldCatUsername},
		{value: patron.String(ids.FieldID), field: ids.FieldID},
	}
}

// sameBackend reports whether two targets route to one backend.
func sameBackend(a, b Target) bool {
	return a.Backend.Name == b.Backend.Name
}
