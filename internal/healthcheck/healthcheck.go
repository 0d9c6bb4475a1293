package healthcheck

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/angeloszaimis/path-proxy/internal/metrics"
)

const probeTimeout = 2 * time.Second

// Target is one backend of one application.
type Target struct {
	App     string
	Backend string
}

// Probe dials addr once and closes the connection.
func Probe(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Start launches one HealthCheck goroutine per target. A non-positive interval
// disables probing.
func Start(ctx context.Context, targets []Target, interval time.Duration, logger *slog.Logger, collector *metrics.Collector) {
	if interval <= 0 {
		logger.Info("Health checks disabled")
		return
	}

	for _, target := range targets {
		go HealthCheck(ctx, target, interval, logger, collector)
	}
}

// HealthCheck probes target every interval until ctx is done, logging state
// transitions and publishing each result to collector.
func HealthCheck(
	ctx context.Context,
	target Target,
	interval time.Duration,
	logger *slog.Logger,
	collector *metrics.Collector,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger = logger.With(
		slog.String("app", target.App),
		slog.String("server", target.Backend))

	var known, healthy bool

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Health check stopped")
			return

		case <-ticker.C:
			err := Probe(ctx, target.Backend)
			up := err == nil

			collector.Emit(metrics.MetricEvent{
				Type:    metrics.EventHealthChanged,
				App:     target.App,
				Backend: target.Backend,
				Healthy: up,
			})

			if known && up == healthy {
				continue
			}

			switch {
			case up && known:
				logger.Info("Server is back up")
			case up:
				logger.Debug("Server is reachable")
			default:
				logger.Warn("Server is down", slog.Any("err", err))
			}

			known, healthy = true, up
		}
	}
}
