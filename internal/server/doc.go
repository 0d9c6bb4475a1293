// Package server runs the TCP accept loop. Each accepted connection is served
// on its own goroutine, with the number of concurrent connections bounded by a
// semaphore, and Shutdown drains in-flight connections.
package server
