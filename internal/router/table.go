package router

import (
	"slices"
	"sync"
)

// Table is the process-wide routing table. Any number of resolutions may run
// concurrently; Replace and Register take the table exclusively.
type Table struct {
	mutex  sync.RWMutex
	routes []Route
}

func NewTable(routes []Route) *Table {
	return &Table{routes: slices.Clone(routes)}
}

// Resolve matches path against the current routes under the read lock.
func (t *Table) Resolve(path string) (string, bool) {
	var (
		app string
		ok  bool
	)
	t.View(func(routes []Route) {
		app, ok = Resolve(path, routes)
	})
	return app, ok
}

// View runs fn with the read lock held. fn must not retain or modify routes.
func (t *Table) View(fn func(routes []Route)) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	fn(t.routes)
}

// Replace swaps the whole table. Readers observe either the old or the new
// set, never a mix.
func (t *Table) Replace(routes []Route) {
	next := slices.Clone(routes)

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.routes = next
}

// Register appends a route at the lowest priority.
func (t *Table) Register(route Route) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.routes = append(t.routes, route)
}

// Routes returns a copy of the current routes.
func (t *Table) Routes() []Route {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return slices.Clone(t.routes)
}
