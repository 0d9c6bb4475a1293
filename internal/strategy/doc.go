// Package strategy defines the load balancing strategy interface and its
// closed set of implementations, selected once per application from the
// configured strategy identifier:
//
//   - Random: uniform, independent selection on every call
//
// A strategy captures the application's backend set at construction and never
// sees an empty set; New rejects it.
package strategy
