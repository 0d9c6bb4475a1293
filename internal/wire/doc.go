// Package wire implements the HTTP/1.1 framing used between the proxy and its
// clients: decoding a single complete request buffer and encoding a response
// back into bytes. It performs no I/O.
package wire
