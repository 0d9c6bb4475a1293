package state

import (
	"errors"
	"fmt"
	"slices"

	"github.com/angeloszaimis/path-proxy/config"
	"github.com/angeloszaimis/path-proxy/internal/healthcheck"
	"github.com/angeloszaimis/path-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/path-proxy/internal/router"
	"github.com/angeloszaimis/path-proxy/internal/strategy"
)

// ErrRegistryChanged is returned by ApplyRoutes when an update would add or
// remove applications or change their backends. The registry's key set is
// fixed for the process lifetime.
var ErrRegistryChanged = errors.New("application set or backends changed, restart required")

// App is one routable application.
type App struct {
	Name     string
	Prefix   string
	Strategy strategy.Kind
	Backends []string
}

type State struct {
	Routes    *router.Table
	Balancers *loadbalancer.Registry
}

// New registers apps in order. Registration order is match priority.
func New(apps []App) (*State, error) {
	lbApps := make([]loadbalancer.App, 0, len(apps))
	for _, app := range apps {
		lbApps = append(lbApps, loadbalancer.App{
			Name:     app.Name,
			Strategy: app.Strategy,
			Backends: app.Backends,
		})
	}

	registry, err := loadbalancer.NewRegistry(lbApps)
	if err != nil {
		return nil, err
	}

	return &State{
		Routes:    router.NewTable(routes(apps)),
		Balancers: registry,
	}, nil
}

// ApplyRoutes replaces the routing table with the prefixes and order of apps.
// Readers observe either the old table or the new one, never a mix.
func (s *State) ApplyRoutes(apps []App) error {
	registered := s.Balancers.Apps()
	if len(registered) != len(apps) {
		return fmt.Errorf("%w: %d applications registered, %d configured", ErrRegistryChanged, len(registered), len(apps))
	}

	for _, app := range apps {
		lb, ok := s.Balancers.Get(app.Name)
		if !ok {
			return fmt.Errorf("%w: unknown application %q", ErrRegistryChanged, app.Name)
		}

		current := lb.LoadBalancerStrategy()
		if current.Kind() != app.Strategy || !slices.Equal(current.Backends(), app.Backends) {
			return fmt.Errorf("%w: application %q", ErrRegistryChanged, app.Name)
		}
	}

	s.Routes.Replace(routes(apps))
	return nil
}

// Targets lists every (application, backend) pair, for health probing.
func (s *State) Targets() []healthcheck.Target {
	var targets []healthcheck.Target
	for _, name := range s.Balancers.Apps() {
		lb, _ := s.Balancers.Get(name)
		for _, addr := range lb.LoadBalancerStrategy().Backends() {
			targets = append(targets, healthcheck.Target{App: name, Backend: addr})
		}
	}
	return targets
}

// AppsFromConfig converts validated configuration into apps in declaration
// order.
func AppsFromConfig(cfg *config.Config) ([]App, error) {
	ordered := cfg.OrderedApps()
	apps := make([]App, 0, len(ordered))

	for _, ac := range ordered {
		kind, err := strategy.ParseKind(ac.LoadBalancer)
		if err != nil {
			return nil, fmt.Errorf("app %q: %w", ac.Name, err)
		}

		apps = append(apps, App{
			Name:     ac.Name,
			Prefix:   ac.Path,
			Strategy: kind,
			Backends: slices.Clone(ac.Backends),
		})
	}

	return apps, nil
}

func routes(apps []App) []router.Route {
	rs := make([]router.Route, 0, len(apps))
	for _, app := range apps {
		rs = append(rs, router.Route{App: app.Name, Prefix: app.Prefix})
	}
	return rs
}
