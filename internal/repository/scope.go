package repository

import (
	"context"
	"sync"
)

// ScopeLocker hands out one mutual-exclusion scope per screening id.
// Scopes are created on demand and dropped once nobody holds or waits for
// them, so the map only grows with the number of busy screenings.
type ScopeLocker struct {
	mu     sync.Mutex
	scopes map[uint64]*scope
}

type scope struct {
	sem  chan struct{}
	refs int
}

func NewScopeLocker() *ScopeLocker {
	return &ScopeLocker{scopes: make(map[uint64]*scope)}
}

// Acquire blocks until the scope for id is free or ctx is done.  The
// returned release func is safe to call more than once.
func (l *ScopeLocker) Acquire(ctx context.Context, id uint64) (func(), error) {
	l.mu.Lock()
	sc, ok := l.scopes[id]
	if !ok {
		sc = &scope{sem: make(chan struct{}, 1)}
		l.scopes[id] = sc
	}
	sc.refs++
	l.mu.Unlock()

	select {
	case sc.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(id, sc)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sc.sem
			l.unref(id, sc)
		})
	}, nil
}

// Len returns the number of live scopes.
func (l *ScopeLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.scopes)
}

func (l *ScopeLocker) unref(id uint64, sc *scope) {
	l.mu.Lock()
	sc.refs--
	if sc.refs == 0 {
		delete(l.scopes, id)
	}
	l.mu.Unlock()
}
