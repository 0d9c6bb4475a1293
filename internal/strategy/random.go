package strategy

import (
	"math/rand/v2"
	"slices"
)

type randomStrategy struct {
	backends []string
}

func (r *randomStrategy) ChooseOne() (string, error) {
	if len(r.backends) == 0 {
		return "", ErrEmptyBackendSet
	}

	index := rand.IntN(len(r.backends))
	return r.backends[index], nil
}

func (r *randomStrategy) Kind() Kind {
	return KindRandom
}

func (r *randomStrategy) Backends() []string {
	return slices.Clone(r.backends)
}

func NewRandomStrategy(backends []string) Strategy {
	return &randomStrategy{backends: slices.Clone(backends)}
}
