// Package lockmap provides one mutex per key, created on demand and dropped
// once nobody holds or waits for it.
package lockmap

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Map hands out exclusive locks by key. The zero value is not usable; call New.
type Map[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

// New returns an empty Map.
func New[K comparable]() *Map[K] {
	return &Map[K]{locks: make(map[K]*entry)}
}

// Lock blocks until k is free or ctx is done. On success the returned func
// releases the lock and must be called exactly once.
func (m *Map[K]) Lock(ctx context.Context, k K) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[k]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.locks[k] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				m.release(k, e)
			})
		}, nil
	case <-ctx.Done():
		m.release(k, e)
		return nil, ctx.Err()
	}
}

// Len returns the number of keys currently held or awaited.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Map[K]) release(k K, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, k)
	}
}
