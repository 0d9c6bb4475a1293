// Command path-proxy is a path-based HTTP/1.1 reverse proxy. Each accepted
// connection carries one request, which is routed to an application by path
// prefix and forwarded to one of that application's backends.
//
// Usage:
//
//	path-proxy --config-file-path config.yaml
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
