// Package lock serializes operations on one artifact. Acquisition never
// waits: a held lock fails fast with mediaref.ErrLocked.
package lock

import (
	"context"
	"sync"

	"github.com/tendant/mediaref/pkg/mediaref"
)

// Locker hands out per-key exclusive locks.
type Locker interface {
	// Acquire takes the lock for key or returns mediaref.ErrLocked.
	// The returned func releases it.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal creates a LocalLocker.
func NewLocal() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

var _ Locker = (*LocalLocker)(nil)

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, mediaref.ErrLocked
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
