package multibackend

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/metrics"
)

type statusGroup struct {
	target Target
	index  []int
	local  []string
}

// GetStatuses returns the statuses of several records, which may live in
// different backends. Each backend receives one batched call; backends run
// concurrently. Results follow the input order. Identifiers that route to no
// backend and items whose backend call failed are left out.
func (d *Dispatcher) GetStatuses(ctx context.Context, idList []string) ([]ils.Record, error) {
	if len(idList) == 0 {
		return []ils.Record{}, nil
	}

	groups := make(map[Target]*statusGroup)
	var order []*statusGroup
	for i, id := range idList {
		t, ok := d.resolveID(id)
		if !ok {
			d.dropped(ils.OpGetStatuses, "unresolved", 1)
			continue
		}
		g, ok := groups[t]
		if !ok {
			g = &statusGroup{target: t}
			groups[t] = g
			order = append(order, g)
		}
		g.index = append(g.index, i)
		g.local = append(g.local, d.stripID(t, id))
	}

	results := make([]ils.Record, len(idList))
	errs := make([]error, len(order))
	var eg errgroup.Group
	eg.SetLimit(d.workers)
	for gi, g := range order {
		eg.Go(func() error {
			recs, err := d.statusBatch(ctx, g.target, g.local)
			if err != nil {
				errs[gi] = fmt.Errorf("backend %q: %w", g.target.Backend.Name, err)
			}
			missing := 0
			for j, rec := range recs {
				if rec == nil {
					missing++
					continue
				}
				results[g.index[j]] = d.addRecord(g.target, rec)
			}
			missing += len(g.local) - len(recs)
			if missing > 0 {
				reason := "missing"
				if err != nil {
					reason = "backend_error"
				}
				d.dropped(ils.OpGetStatuses, reason, missing)
			}
			return nil
		})
	}
	_ = eg.Wait()

	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("status batch completed with failures", "err", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]ils.Record, 0, len(idList))
	for _, rec := range results {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// statusBatch fetches the statuses of local ids from one backend, aligned
// with local. Connectors without a batched lookup are asked id by id.
func (d *Dispatcher) statusBatch(ctx context.Context, t Target, local []string) ([]ils.Record, error) {
	recs, err := call(ctx, d, ils.OpGetStatuses, t, func(ctx context.Context, c ils.StatusesReader) ([]ils.Record, error) {
		return c.GetStatuses(ctx, local)
	})
	if err == nil {
		return alignStatuses(local, recs), nil
	}
	if !errors.Is(err, ils.ErrUnsupported) {
		return nil, err
	}

	out := make([]ils.Record, len(local))
	var errs []error
	for i, id := range local {
		rec, err := call(ctx, d, ils.OpGetStatus, t, func(ctx context.Context, c ils.StatusReader) (ils.Record, error) {
			return c.GetStatus(ctx, id)
		})
		if err != nil {
			if errors.Is(err, ils.ErrUnsupported) {
				return nil, err
			}
			errs = append(errs, err)
			continue
		}
		out[i] = rec
	}
	return out, errors.Join(errs...)
}

// alignStatuses orders batch results like the requested ids. Records are
// matched on "id"; records without one fill the remaining slots in order.
// Records naming an id that was not requested are left out.
func alignStatuses(local []string, recs []ils.Record) []ils.Record {
	positions := make(map[string][]int, len(local))
	for i, id := range local {
		positions[id] = append(positions[id], i)
	}
	out := make([]ils.Record, len(local))
	var anonymous []ils.Record
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		id := rec.String("id")
		if id == "" {
			anonymous = append(anonymous, rec)
			continue
		}
		pos := positions[id]
		if len(pos) == 0 {
			continue
		}
		out[pos[0]] = rec
		positions[id] = pos[1:]
	}

	next := 0
	for _, rec := range anonymous {
		for next < len(out) && out[next] != nil {
			next++
		}
		if next == len(out) {
			break
		}
		out[next] = rec
		next++
	}
	return out
}

func (d *Dispatcher) dropped(op ils.Operation, reason string, n int) {
	metrics.BatchItemsDroppedTotal.WithLabelValues(string(op), reason).Add(float64(n))
}
