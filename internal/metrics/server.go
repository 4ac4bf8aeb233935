package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Endpoint is a running /metrics listener.
type Endpoint struct {
	Addr string
	errs chan error
}

// Err delivers a serve failure, if any, and is closed once the listener stops.
func (e *Endpoint) Err() <-chan error {
	return e.errs
}

// Disabled reports whether addr turns the endpoint off.
func Disabled(addr string) bool {
	switch strings.ToLower(strings.TrimSpace(addr)) {
	case "", "off", "disabled", "false":
		return true
	}
	return false
}

// StartServer binds addr and serves the default Prometheus gatherer until
// ctx is done. It returns nil, nil when addr disables metrics.
func StartServer(ctx context.Context, addr string, logger *slog.Logger) (*Endpoint, error) {
	if Disabled(addr) {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	ep := &Endpoint{Addr: ln.Addr().String(), errs: make(chan error, 1)}
	logger.Info("metrics listening", "addr", ep.Addr)

	go func() {
		defer close(ep.errs)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ep.errs <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return ep, nil
}
