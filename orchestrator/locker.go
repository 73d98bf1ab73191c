package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/poiesic/veridoc/storage"
)

var _ storage.Locker = (*LocalLocker)(nil)

// LocalLocker is an in-process storage.Locker used when no Redis is configured.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

// Acquire takes the named lock unless it is held and unexpired.
func (l *LocalLocker) Acquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expires, ok := l.held[name]; ok && now.Before(expires) {
		return false, nil
	}
	l.held[name] = now.Add(ttl)
	return true, nil
}

// Release frees the named lock.
func (l *LocalLocker) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
	return nil
}
