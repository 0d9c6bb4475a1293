// Package healthcheck periodically probes backend reachability. Results are
// logged and reported as metrics; they never change which backends the load
// balancer may choose.
package healthcheck
