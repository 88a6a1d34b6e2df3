package orphan

import (
	"context"

	"github.com/tendant/mediaref/pkg/mediaref"
)

// Session caches liveness answers for the duration of one scan. A URL that
// appears in many rows is probed once. Probe errors are not cached.
type Session struct {
	prober mediaref.Prober
	cache  map[string]bool
	probes int
}

// NewSession creates an empty session over prober.
func NewSession(prober mediaref.Prober) *Session {
	return &Session{prober: prober, cache: make(map[string]bool)}
}

// Exists answers from the cache or probes.
func (s *Session) Exists(ctx context.Context, url string) (bool, error) {
	if alive, ok := s.cache[url]; ok {
		return alive, nil
	}
	s.probes++
	alive, err := s.prober.Exists(ctx, url)
	if err != nil {
		return false, err
	}
	s.cache[url] = alive
	return alive, nil
}

// Probes is the number of probes actually issued.
func (s *Session) Probes() int {
	return s.probes
}
