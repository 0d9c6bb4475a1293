// Package config loads and validates the proxy configuration from a YAML file
// and environment variables. It defines the listen address, the applications
// with their path prefixes, backends and load balancing strategy, and the
// timeouts, admission limit and logging settings around them. It can also
// watch the file for changes.
package config
