// Package lock provides an in-process adapter.Locker for single-instance
// deployments and tests.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"order-payments/internal/domain"
	"order-payments/internal/domain/ports/adapter"
)

var _ adapter.Locker = (*LocalLocker)(nil)

type entry struct {
	token   string
	expires time.Time
}

type LocalLocker struct {
	mu   sync.Mutex
	held map[string]entry
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]entry{}, now: time.Now}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.held[key]; ok && l.now().Before(e.expires) {
		return "", domain.ErrLocked
	}
	token := uuid.NewString()
	l.held[key] = entry{token: token, expires: l.now().Add(ttl)}
	return token, nil
}

func (l *LocalLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.held[key]; ok && e.token == token {
		delete(l.held, key)
	}
	return nil
}
