// Package lock provides per-key mutual exclusion, used to keep a single
// writer per destination path.
package lock

import (
	"context"
	"sync"
)

type Locker interface {
	ContextLock(ctx context.Context, key string) (Unlocker, error)
}

type Unlocker interface {
	Unlock()
}

type lock struct {
	sem    chan struct{}
	locker *locker
	key    string
	once   sync.Once
}

// Unlock implements Unlocker. Calling it more than once is a no-op.
func (lck *lock) Unlock() {
	lck.once.Do(func() {
		<-lck.sem
		lck.locker.release(lck)
	})
}

type locker struct {
	mu sync.Mutex
	l  map[string]*entry
}

type entry struct {
	sem chan struct{}
	ref uint64
}

func (l *locker) getOrCreate(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result, ok := l.l[key]
	if !ok {
		result = &entry{sem: make(chan struct{}, 1)}
		l.l[key] = result
	}
	result.ref++

	return result
}

// ContextLock implements Locker.
func (l *locker) ContextLock(ctx context.Context, key string) (Unlocker, error) {
	e := l.getOrCreate(key)

	select {
	case e.sem <- struct{}{}:
		return &lock{sem: e.sem, locker: l, key: key}, nil
	case <-ctx.Done():
		l.releaseKey(key)

		return nil, ctx.Err()
	}
}

func (l *locker) release(lck *lock) {
	l.releaseKey(lck.key)
}

func (l *locker) releaseKey(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.l[key]
	if !ok {
		return
	}

	e.ref--
	if e.ref == 0 {
		delete(l.l, key)
	}
}

// size returns the number of keys currently tracked.
func (l *locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.l)
}

func NewLocker() Locker {
	return &locker{
		l: map[string]*entry{},
	}
}
