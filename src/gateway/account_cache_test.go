package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradeflow/src/model"
)

type countingBroker struct {
	Broker
	calls int
	fail  bool
}

func (b *countingBroker) GetAccount(ctx context.Context) (*model.AccountSnapshot, error) {
	b.calls++
	if b.fail {
		return nil, errors.New("gateway down")
	}
	return &model.AccountSnapshot{
		CashByCurrency: map[string]decimal.Decimal{"USD": decimal.NewFromInt(int64(1000 + b.calls))},
		FetchedAt:      time.Now(),
	}, nil
}

func TestAccountCacheServesWithinTTL(t *testing.T) {
	broker := &countingBroker{}
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	cache := NewAccountCache(broker, 5*time.Second).WithClock(func() time.Time { return now })

	first, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, broker.calls)

	// FetchedAt comes from the broker's wall clock; pin it for the TTL check.
	first.FetchedAt = now

	second, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Same(t, first, second, "within TTL the snapshot is shared, not refetched")
	require.Equal(t, 1, broker.calls)

	now = now.Add(6 * time.Second)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, broker.calls)
}

func TestAccountCacheReturnsStaleOnRefreshFailure(t *testing.T) {
	broker := &countingBroker{}
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	cache := NewAccountCache(broker, time.Second).WithClock(func() time.Time { return now })

	first, err := cache.Get(context.Background())
	require.NoError(t, err)
	first.FetchedAt = now

	broker.fail = true
	now = now.Add(2 * time.Second)

	stale, err := cache.Get(context.Background())
	require.Error(t, err)
	require.Same(t, first, stale, "stale snapshot returned alongside the error")
}

func TestAccountCacheInvalidateForcesRefetch(t *testing.T) {
	broker := &countingBroker{}
	cache := NewAccountCache(broker, time.Minute)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	cache.Invalidate()

	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, broker.calls)
}
