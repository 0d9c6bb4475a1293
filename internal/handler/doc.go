// Package handler serves one proxied exchange per TCP connection: read the
// request bytes, decode them, resolve the application by path prefix, choose
// a backend, forward, then encode and write the response before closing.
package handler
