package dedup

import (
	"context"
	"sync"
)

// KeyLock hands out one lock per key and forgets keys nobody holds or waits on.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	held chan struct{}
	refs int
}

// NewKeyLock constructs an empty KeyLock.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*refLock)}
}

// Lock waits until key is held or ctx is done. On success it returns the unlock function.
func (k *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{held: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.held <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
	return func() {
		<-l.held
		k.release(key, l)
	}, nil
}

func (k *KeyLock) release(key string, l *refLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Len reports how many keys are currently tracked.
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
