// Package metrics collects proxy metrics into a Prometheus registry.
//
// Request handlers emit MetricEvents through a buffered channel with
// non-blocking sends; a dedicated goroutine applies them to the counters, so
// metric bookkeeping never stalls a connection. The in-flight connection gauge
// is updated directly.
//
// Example usage:
//
//	collector := metrics.NewCollector(1024, logger, nil)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:    metrics.EventBackendSelected,
//		App:     "app-1",
//		Backend: "127.0.0.1:9001",
//	})
//
//	snapshot := collector.Snapshot()
//
// The registry is process-local; nothing is exposed over the network.
package metrics
