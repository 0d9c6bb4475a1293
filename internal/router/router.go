package router

import "strings"

// Route registers an application under a path prefix.
type Route struct {
	App    string
	Prefix string
}

// Resolve returns the application of the first route, in registration order,
// whose prefix is a literal prefix of path. Overlapping prefixes are not
// ranked by length: register the more specific prefix first.
func Resolve(path string, routes []Route) (string, bool) {
	for _, r := range routes {
		if strings.HasPrefix(path, r.Prefix) {
			return r.App, true
		}
	}
	return "", false
}
