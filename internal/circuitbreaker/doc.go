// Package circuitbreaker fails requests fast for backends that keep failing.
//
// A breaker never redirects a request to another backend. While a backend's
// circuit is open, requests routed to it are aborted before dialing, exactly
// as a transport failure would abort them.
//
//   - CLOSED: calls pass through, consecutive failures are counted
//   - OPEN: calls are refused until the reset timeout has elapsed
//   - HALF-OPEN: one trial call is let through; its result closes or reopens
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := registry.GetBreaker("127.0.0.1:9001")
//	if cb.Allow() {
//	    // Make request...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
