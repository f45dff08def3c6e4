package services

import (
	"context"
	"sync"
)

// nameLocks serialises publications of the same name within one process so
// that only a real leftover, never a concurrent upload still in flight, takes
// the repair path.
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	sem  chan struct{}
	refs int
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*nameLock)}
}

// acquire blocks until name is free or ctx is done. The returned release
// must be called exactly once.
func (l *nameLocks) acquire(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[name]
	if !ok {
		lk = &nameLock{sem: make(chan struct{}, 1)}
		l.locks[name] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(name, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.sem
			l.drop(name, lk)
		})
	}, nil
}

func (l *nameLocks) drop(name string, lk *nameLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, name)
	}
}

func (l *nameLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
