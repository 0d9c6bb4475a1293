// Package state holds the routing state shared by every connection handler:
// the path prefix routing table and the per-application load balancer
// registry. It is built once from validated configuration and passed
// explicitly to the handler.
package state
