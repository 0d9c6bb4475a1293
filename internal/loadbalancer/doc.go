// Package loadbalancer holds one load balancer per application and chooses a
// backend address for each request.
package loadbalancer
