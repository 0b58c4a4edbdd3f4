package assets

import (
	"context"
	"sync"
)

// keyLocks hands out one exclusive slot per key. Entries are dropped once no
// holder or waiter remains, so the map only tracks keys in use.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	slot  chan struct{}
	users int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) enter(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{slot: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.users++
	return l
}

func (k *keyLocks) leave(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.users--
	if l.users == 0 {
		delete(k.locks, key)
	}
}

// acquire blocks until key is free or ctx ends.
func (k *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	l := k.enter(key)
	select {
	case l.slot <- struct{}{}:
		return func() {
			<-l.slot
			k.leave(key, l)
		}, nil
	case <-ctx.Done():
		k.leave(key, l)
		return nil, ctx.Err()
	}
}

// tryAcquire takes key only if nobody holds it.
func (k *keyLocks) tryAcquire(key string) (func(), bool) {
	l := k.enter(key)
	select {
	case l.slot <- struct{}{}:
		return func() {
			<-l.slot
			k.leave(key, l)
		}, true
	default:
		k.leave(key, l)
		return nil, false
	}
}
