package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/open-sspm/open-ils/internal/config"
	"github.com/open-sspm/open-ils/internal/connectors/demo"
	"github.com/open-sspm/open-ils/internal/connectors/registry"
	"github.com/open-sspm/open-ils/internal/connectors/restils"
	"github.com/open-sspm/open-ils/internal/connectors/sqlils"
	"github.com/open-sspm/open-ils/internal/metrics"
	"github.com/open-sspm/open-ils/internal/multibackend"
	"github.com/open-sspm/open-ils/internal/secrets"
)

func buildConnectorRegistry() (*registry.ConnectorRegistry, error) {
	reg := registry.NewRegistry()
	defs := []registry.ConnectorDefinition{
		demo.NewDefinition(),
		sqlils.NewDefinition(),
		restils.NewDefinition(),
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// openDispatcher builds the dispatcher over the backends declared in the
// multi-backend file named by cfg.
func openDispatcher(cfg config.Config, logger *slog.Logger) (*multibackend.Dispatcher, error) {
	mb, err := config.LoadMultiBackend(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	backends, err := mb.BuildBackends()
	if err != nil {
		return nil, err
	}
	reg, err := buildConnectorRegistry()
	if err != nil {
		return nil, err
	}
	return multibackend.New(multibackend.Options{
		Registry: reg,
		Backends: backends,
		Sections: config.NewSectionLoader(mb, cfg.ConfigDir, logger),
		Secrets: secrets.NewVaultResolver(secrets.Options{
			Address:   cfg.VaultAddr,
			Token:     cfg.VaultToken,
			Namespace: cfg.VaultNamespace,
		}),
		Delimiters:   mb.Delimiters,
		Logger:       logger,
		BatchWorkers: cfg.BatchWorkers,
	})
}

// withDispatcher runs fn under a signal-aware context with a dispatcher
// built from the environment. The metrics endpoint, when configured, lives
// as long as fn.
func withDispatcher(cmd *cobra.Command, fn func(ctx context.Context, d *multibackend.Dispatcher) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := cfg.MetricsAddr
	if cmd.Flags().Changed("metrics-addr") {
		addr = metricsAddr
	}
	logger := slog.Default()
	endpoint, err := metrics.StartServer(ctx, addr, logger)
	if err != nil {
		return commandResult(fmt.Errorf("start metrics endpoint: %w", err))
	}

	d, err := openDispatcher(cfg, logger)
	if err != nil {
		return commandResult(err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("closing connectors failed", "err", err)
		}
	}()

	runErr := fn(ctx, d)
	if endpoint != nil {
		select {
		case err := <-endpoint.Err():
			runErr = errors.Join(runErr, err)
		default:
		}
	}
	return commandResult(runErr)
}
