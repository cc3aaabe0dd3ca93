package memory

import (
	"context"
	"sync"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

// Locker hands out per-record exclusion tokens within one process.
type Locker struct {
	mu   sync.Mutex
	held map[domain.RecordRef]struct{}
}

func NewLocker() *Locker {
	return &Locker{held: make(map[domain.RecordRef]struct{})}
}

// TryAcquire implements ports.Locker.
func (l *Locker) TryAcquire(_ context.Context, ref domain.RecordRef) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[ref]; busy {
		return nil, false, nil
	}
	l.held[ref] = struct{}{}

	return sync.OnceFunc(func() {
		l.mu.Lock()
		delete(l.held, ref)
		l.mu.Unlock()
	}), true, nil
}

// Held reports whether ref is currently locked.
func (l *Locker) Held(ref domain.RecordRef) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[ref]
	return ok
}
