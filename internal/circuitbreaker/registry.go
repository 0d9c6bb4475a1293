package circuitbreaker

import (
	"sync"
	"time"
)

// Registry hands out one breaker per backend address, created on first use.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
}

// NewRegistry returns nil when threshold is not positive, which disables
// circuit breaking for callers that check for a nil registry.
func NewRegistry(threshold int, timeout time.Duration) *Registry {
	if threshold <= 0 {
		return nil
	}

	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
	}
}

func (r *Registry) GetBreaker(backend string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[backend]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[backend]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.threshold, r.timeout)
	r.breakers[backend] = cb
	return cb
}

// Stats returns the state of every breaker created so far.
func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for backend, cb := range r.breakers {
		stats[backend] = cb.State()
	}
	return stats
}
