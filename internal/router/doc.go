// Package router resolves request paths to application names by literal
// prefix match against an ordered, runtime-replaceable routing table.
package router
