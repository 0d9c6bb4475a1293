package strategy

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a load balancing strategy.
type Kind string

const (
	KindRandom Kind = "random"
)

var (
	ErrUnknownStrategy = errors.New("unknown load balancing strategy")

	// ErrEmptyBackendSet signals a broken invariant: configuration validation
	// must reject applications without backends before they become routable.
	ErrEmptyBackendSet = errors.New("empty backend set")
)

// Strategy chooses one backend address per call. Implementations are not
// required to be safe for concurrent use; the load balancer registry
// serializes calls per application.
type Strategy interface {
	ChooseOne() (string, error)
	Kind() Kind
	Backends() []string
}

// Kinds lists every recognized strategy identifier.
func Kinds() []Kind {
	return []Kind{KindRandom}
}

// ParseKind maps a case-insensitive identifier to a Kind.
func ParseKind(s string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range Kinds() {
		if kind == k {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// New builds the strategy for kind over a copy of backends.
func New(kind Kind, backends []string) (Strategy, error) {
	if len(backends) == 0 {
		return nil, ErrEmptyBackendSet
	}

	switch kind {
	case KindRandom:
		return NewRandomStrategy(backends), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, kind)
	}
}
