package wire

import "strings"

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered header multimap. Repeated names are kept in the order
// they were added; lookups are case-insensitive.
type Header []Field

// Add appends a field without touching existing fields of the same name.
func (h *Header) Add(name, value string) {
	*h = append(*h, Field{Name: name, Value: value})
}

// Get returns the first value for name, or "" if absent.
func (h Header) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

func (h Header) Lookup(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns every value registered under name, in insertion order.
func (h Header) Values(name string) []string {
	var values []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

func (h Header) Len() int {
	return len(h)
}
