package services

import (
	"context"
	"sync"
)

// Locker serializes work on a named resource. Unlock must be called exactly
// once after a successful Lock.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

// NewKeyedLocker returns an in-process Locker. It only serializes callers in
// this process; use the redis locker when several API replicas run.
func NewKeyedLocker() Locker {
	return &keyedLocker{locks: map[string]*keyedLock{}}
}

func (l *keyedLocker) Lock(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[name]
	if !ok {
		kl = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[name] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(name, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(name, kl)
		})
	}, nil
}

func (l *keyedLocker) release(name string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, name)
	}
}
