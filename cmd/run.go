package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/angeloszaimis/path-proxy/config"
	"github.com/angeloszaimis/path-proxy/internal/backend"
	"github.com/angeloszaimis/path-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/path-proxy/internal/handler"
	"github.com/angeloszaimis/path-proxy/internal/healthcheck"
	"github.com/angeloszaimis/path-proxy/internal/metrics"
	"github.com/angeloszaimis/path-proxy/internal/server"
	"github.com/angeloszaimis/path-proxy/internal/state"
	"github.com/angeloszaimis/path-proxy/pkg/logger"
)

const metricsBufferSize = 1000

// run starts the proxy and blocks until ctx is cancelled or the server fails.
// Any configuration error is returned before the listener is bound.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	out, closeLog, err := logger.Output(cfg.Logging.File)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment, out)

	apps, err := state.AppsFromConfig(cfg)
	if err != nil {
		return err
	}

	st, err := state.New(apps)
	if err != nil {
		return fmt.Errorf("failed to build routing state: %w", err)
	}

	for _, app := range apps {
		log.Info("Registered application",
			slog.String("app", app.Name),
			slog.String("path", app.Prefix),
			slog.String("lb", string(app.Strategy)),
			slog.Any("backends", app.Backends))
	}

	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()

	collector := metrics.NewCollector(metricsBufferSize, log, nil)
	collector.Start(collectorCtx)

	healthcheck.Start(ctx, st.Targets(), cfg.HealthCheck.IntervalDuration(), log, collector)

	breakers := circuitbreaker.NewRegistry(
		cfg.CircuitBreaker.FailureThreshold,
		cfg.CircuitBreaker.ResetTimeoutDuration(),
	)

	connHandler := handler.NewConnHandler(log, st, backend.NewClient(0), collector, handler.Options{
		ReadBufferSize: cfg.Server.ReadBufferSize,
		ReadTimeout:    cfg.Server.ReadTimeoutDuration(),
		WriteTimeout:   cfg.Server.WriteTimeoutDuration(),
		BackendTimeout: cfg.Server.BackendTimeoutDuration(),
		Breakers:       breakers,
	})

	srv, err := server.New(cfg.Server.Address(), connHandler, int64(cfg.Server.MaxConnections), log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address(), err)
	}

	watchRoutes(ctx, configPath, st, log)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Serve()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
		<-srvErrCh
	case err = <-srvErrCh:
		if err != nil {
			log.Error("Proxy stopped", slog.Any("err", err))
		}
		_ = srv.Shutdown(context.Background())
	}

	stopCollector()
	<-collector.Done()
	logSummary(log, collector.Snapshot())
	if breakers != nil {
		for addr, cbState := range breakers.Stats() {
			if cbState != circuitbreaker.StateClosed {
				log.Warn("Circuit not closed at shutdown",
					slog.String("backend", addr),
					slog.String("state", cbState.String()))
			}
		}
	}

	return err
}

// watchRoutes reloads path prefixes and their order when the config file
// changes. Failing to start the watcher is not fatal.
func watchRoutes(ctx context.Context, configPath string, st *state.State, log *slog.Logger) {
	watcher, err := config.NewWatcher(configPath, config.DefaultDebounce, log)
	if err != nil {
		log.Warn("Config hot reload disabled", slog.Any("err", err))
		return
	}

	go func() {
		defer watcher.Close()

		if err := watcher.Watch(ctx, func() { reloadRoutes(configPath, st, log) }); err != nil {
			log.Error("Config watcher stopped", slog.Any("err", err))
		}
	}()
}

func reloadRoutes(configPath string, st *state.State, log *slog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Warn("Ignoring invalid config update", slog.Any("err", err))
		return
	}

	apps, err := state.AppsFromConfig(cfg)
	if err != nil {
		log.Warn("Ignoring invalid config update", slog.Any("err", err))
		return
	}

	if err := st.ApplyRoutes(apps); err != nil {
		log.Warn("Config update not applied", slog.Any("err", err))
		return
	}

	log.Info("Routes reloaded", slog.Int("routes", len(apps)))
}

func logSummary(log *slog.Logger, snap metrics.Snapshot) {
	log.Info("Metrics summary",
		slog.Int64("connections", snap.Connections),
		slog.Any("requests", snap.Requests),
		slog.Any("selections", snap.Selections))
}
