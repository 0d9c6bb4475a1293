package loadbalancer

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/angeloszaimis/path-proxy/internal/strategy"
)

var ErrUnknownApp = errors.New("no load balancer registered for application")

// App is the load balancing configuration of one application.
type App struct {
	Name     string
	Strategy strategy.Kind
	Backends []string
}

// LoadBalancer serializes selection for a single application.
type LoadBalancer struct {
	strategy strategy.Strategy
	mutex    sync.Mutex
}

func NewLoadBalancer(strategy strategy.Strategy) *LoadBalancer {
	return &LoadBalancer{strategy: strategy}
}

// ChooseOne picks a backend under this application's lock.
func (lb *LoadBalancer) ChooseOne() (string, error) {
	lb.mutex.Lock()
	defer lb.mutex.Unlock()

	return lb.strategy.ChooseOne()
}

func (lb *LoadBalancer) LoadBalancerStrategy() strategy.Strategy {
	return lb.strategy
}

// Registry maps application names to their load balancers. The key set is
// fixed at construction, so lookups need no lock; selection for one
// application never contends with another.
type Registry struct {
	balancers map[string]*LoadBalancer
}

// NewRegistry builds one load balancer per app. It fails if any app has no
// backends or an unknown strategy, so the empty-set invariant holds before
// anything becomes routable.
func NewRegistry(apps []App) (*Registry, error) {
	balancers := make(map[string]*LoadBalancer, len(apps))

	for _, app := range apps {
		if _, exists := balancers[app.Name]; exists {
			return nil, fmt.Errorf("app %q: registered twice", app.Name)
		}

		strat, err := strategy.New(app.Strategy, app.Backends)
		if err != nil {
			return nil, fmt.Errorf("app %q: %w", app.Name, err)
		}
		balancers[app.Name] = NewLoadBalancer(strat)
	}

	return &Registry{balancers: balancers}, nil
}

// Get returns the load balancer registered for app.
func (r *Registry) Get(app string) (*LoadBalancer, bool) {
	lb, ok := r.balancers[app]
	return lb, ok
}

// Choose selects a backend for app. ErrUnknownApp is a routing error;
// strategy.ErrEmptyBackendSet is an invariant violation.
func (r *Registry) Choose(app string) (string, error) {
	lb, ok := r.balancers[app]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownApp, app)
	}

	addr, err := lb.ChooseOne()
	if err != nil {
		return "", fmt.Errorf("app %q: %w", app, err)
	}

	return addr, nil
}

// Apps returns the registered application names, sorted.
func (r *Registry) Apps() []string {
	names := make([]string, 0, len(r.balancers))
	for name := range r.balancers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
