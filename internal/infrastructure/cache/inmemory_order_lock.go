package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resale/backend/internal/domain/dispatch"
)

// lease represents a held order lock with its owner token and expiration
type lease struct {
	token     string
	expiresAt time.Time
}

// InMemoryOrderLock implements OrderLocker using an in-memory map. Suitable
// for single-instance deployments and testing; multi-instance deployments
// need the Redis implementation.
type InMemoryOrderLock struct {
	mu     sync.Mutex
	leases map[uuid.UUID]lease
}

// NewInMemoryOrderLock creates a new in-memory order lock
func NewInMemoryOrderLock() *InMemoryOrderLock {
	return &InMemoryOrderLock{
		leases: make(map[uuid.UUID]lease),
	}
}

// Acquire takes the per-order lock; acquired is false when already held and
// not expired
func (l *InMemoryOrderLock) Acquire(ctx context.Context, orderID uuid.UUID, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, exists := l.leases[orderID]; exists && time.Now().Before(e.expiresAt) {
		return "", false, nil
	}

	token := uuid.NewString()
	l.leases[orderID] = lease{token: token, expiresAt: time.Now().Add(ttl)}
	return token, true, nil
}

// Release frees the per-order lock iff lease still owns it
func (l *InMemoryOrderLock) Release(ctx context.Context, orderID uuid.UUID, lease string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, exists := l.leases[orderID]; exists && e.token == lease {
		delete(l.leases, orderID)
	}
	return nil
}

// Size returns the number of held leases (for testing/monitoring)
func (l *InMemoryOrderLock) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.leases)
}

// Ensure InMemoryOrderLock implements OrderLocker
var _ dispatch.OrderLocker = (*InMemoryOrderLock)(nil)
