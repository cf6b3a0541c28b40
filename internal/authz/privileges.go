package authz

import (
	"context"
	"sync"
	"time"

	"github.com/vidshare/backend/internal/models"
)

// AccountFinder loads accounts by id.
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (models.Account, error)
}

// StorePrivileges reads roles straight from the account store.
type StorePrivileges struct {
	Accounts AccountFinder
}

// Role returns the account's role.
func (p StorePrivileges) Role(ctx context.Context, accountID string) (models.Role, error) {
	account, err := p.Accounts.FindByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	return account.Role, nil
}

type roleEntry struct {
	role    models.Role
	expires time.Time
}

// CachingPrivileges wraps another PrivilegeLookup with a TTL-based in-memory
// cache. Failed lookups are never cached.
type CachingPrivileges struct {
	base PrivilegeLookup
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	items map[string]roleEntry
}

// NewCachingPrivileges caches roles for ttl. A ttl <= 0 disables caching.
func NewCachingPrivileges(base PrivilegeLookup, ttl time.Duration) *CachingPrivileges {
	return &CachingPrivileges{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]roleEntry),
	}
}

// Role returns a cached role when fresh, otherwise delegates and stores the result.
func (c *CachingPrivileges) Role(ctx context.Context, accountID string) (models.Role, error) {
	if c.ttl <= 0 {
		return c.base.Role(ctx, accountID)
	}

	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[accountID]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.role, nil
	}

	role, err := c.base.Role(ctx, accountID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.items[accountID] = roleEntry{role: role, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return role, nil
}

// Invalidate drops any cached role for accountID.
func (c *CachingPrivileges) Invalidate(accountID string) {
	c.mu.Lock()
	delete(c.items, accountID)
	c.mu.Unlock()
}
