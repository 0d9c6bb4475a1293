// Package backend forwards decoded requests to a chosen backend address over a
// fresh outbound connection and materializes the backend's response.
package backend
