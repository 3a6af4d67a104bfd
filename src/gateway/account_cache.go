package gateway

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeflow/src/model"
)

// AccountCache is a TTL-scoped, replace-wholesale cache over
// Broker.GetAccount. No field of a cached snapshot is ever mutated; a
// refresh swaps the whole pointer, so concurrent readers always observe a
// consistent snapshot. Whichever caller finds the cache stale performs the
// refresh.
type AccountCache struct {
	broker Broker
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	snapshot *model.AccountSnapshot
}

func NewAccountCache(broker Broker, ttl time.Duration) *AccountCache {
	return &AccountCache{broker: broker, ttl: ttl, now: time.Now}
}

// WithClock overrides the cache clock for tests.
func (c *AccountCache) WithClock(now func() time.Time) *AccountCache {
	c.now = now
	return c
}

// Get returns the cached snapshot, refreshing it from the gateway when the
// TTL has lapsed. On refresh failure a stale snapshot is returned with the
// error, so admission can choose between acting on stale data and skipping.
func (c *AccountCache) Get(ctx context.Context) (*model.AccountSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil && c.now().Sub(c.snapshot.FetchedAt) < c.ttl {
		return c.snapshot, nil
	}

	fresh, err := c.broker.GetAccount(ctx)
	if err != nil {
		logger.WithError(err).Warn("account cache refresh failed")
		return c.snapshot, err
	}

	c.snapshot = fresh
	return c.snapshot, nil
}

// Invalidate drops the cached snapshot so the next Get refetches. Called
// after fills, when the account is known to have changed.
func (c *AccountCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
}
