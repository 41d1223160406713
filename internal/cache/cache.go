package cache

import (
	"context"
	"sync"
	"time"

	"khata/backend/internal/domain"
)

// BalanceCache holds customer balances keyed by customer ID. The ledger stays
// the source of truth. Set never replaces an entry that carries a higher seq,
// so a slow read-through fill cannot overwrite a balance written after a
// newer ledger append. A cache error never fails the caller.
type BalanceCache interface {
	Get(ctx context.Context, customerID string) (*domain.BalanceResponse, bool, error)
	Set(ctx context.Context, value *domain.BalanceResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, customerID string) error
}

type NoopBalanceCache struct{}

func (NoopBalanceCache) Get(_ context.Context, _ string) (*domain.BalanceResponse, bool, error) {
	return nil, false, nil
}

func (NoopBalanceCache) Set(_ context.Context, _ *domain.BalanceResponse, _ time.Duration) error {
	return nil
}

func (NoopBalanceCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

// MemoryBalanceCache is the in-process cache used when Redis is not
// configured or unreachable.
type MemoryBalanceCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     domain.BalanceResponse
	expiresAt time.Time
}

func NewMemoryBalanceCache() *MemoryBalanceCache {
	return &MemoryBalanceCache{
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryBalanceCache) Get(_ context.Context, customerID string) (*domain.BalanceResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[customerID]
	if !ok {
		return nil, false, nil
	}
	if c.expired(entry) {
		delete(c.entries, customerID)
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (c *MemoryBalanceCache) Set(_ context.Context, value *domain.BalanceResponse, ttl time.Duration) error {
	if value == nil || value.CustomerID == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.entries[value.CustomerID]; ok && !c.expired(current) && current.value.Seq > value.Seq {
		return nil
	}
	entry := memoryEntry{value: *value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[value.CustomerID] = entry
	return nil
}

func (c *MemoryBalanceCache) Invalidate(_ context.Context, customerID string) error {
	c.mu.Lock()
	delete(c.entries, customerID)
	c.mu.Unlock()
	return nil
}

func (c *MemoryBalanceCache) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt)
}

func balanceKey(customerID string) string {
	return "khata:balance:" + customerID
}
