package multibackend

import (
	"context"

	"github.com/open-sspm/open-ils/internal/connectors/registry"
	"github.com/open-sspm/open-ils/internal/ils"
)

// Supports reports whether the backend that params route to implements op.
// params may hold identifier strings, patron records or parameter records;
// when none names a backend the default backend answers. Without a default
// the answer is false. Supports never fails: setup errors count as false.
func (d *Dispatcher) Supports(ctx context.Context, op ils.Operation, params ...any) bool {
	target, ok := d.resolveAny(params)
	if !ok {
		return false
	}
	return d.backendSupports(ctx, target.Backend, op)
}

// SupportsAny reports whether any declared backend implements op.
func (d *Dispatcher) SupportsAny(ctx context.Context, op ils.Operation) bool {
	for _, backend := range d.backends.All() {
		if d.backendSupports(ctx, backend, op) {
			return true
		}
	}
	return false
}

// backendSupports answers from the registry for static connector types and
// asks the initialized connector for opaque ones.
func (d *Dispatcher) backendSupports(ctx context.Context, backend registry.Backend, op ils.Operation) bool {
	caps, dynamic, ok := d.registry.Capabilities(backend.Kind)
	if !ok || !caps.Has(op) {
		return false
	}
	if !dynamic {
		return true
	}
	conn, err := d.cache.Initialized(ctx, backend.Name)
	if err != nil || conn == nil {
		d.logger.Debug("capability probe failed", "backend", backend.Name, "operation", op, "err", err)
		return false
	}
	return allows(conn, op)
}

func allows(conn ils.Connector, op ils.Operation) bool {
	if dyn, ok := conn.(ils.DynamicCapabilities); ok {
		return dyn.SupportsOperation(op)
	}
	return true
}

// probedCapabilities lists what an initialized opaque connector actually
// offers.
func probedCapabilities(conn ils.Connector) ils.Capabilities {
	caps := ils.CapabilitiesOf(conn)
	for op := range caps {
		if !allows(conn, op) {
			delete(caps, op)
		}
	}
	return caps
}
