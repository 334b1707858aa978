package graphsync

import (
	"context"
	"sync"
)

// Locker grants single-flight ownership of a key. acquired is false when
// another holder owns the key; err is reserved for backend failures.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(context.Context) error, acquired bool, err error)
}

// LocalLocker serializes passes within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryAcquire(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}
	return release, true, nil
}

// LockKey is the single-flight key for a document.
func LockKey(documentID string) string {
	return "archsync:sync:" + documentID
}
