package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_ReserveAll_Commit(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	results, err := store.ReserveAll(ctx, []Reservation{
		{Key: "budget:agent:a1:day:2026-09-01", Amount: 10, Cap: 100, TTL: time.Hour},
		{Key: "budget:tenant:t1:month:2026-09", Amount: 10, Cap: 1000, TTL: 24 * time.Hour},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.True(t, r.Accepted)
		assert.Equal(t, int64(10), r.Total)
	}

	amount, count, err := store.Usage(ctx, "budget:agent:a1:day:2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, int64(10), amount)
	assert.Equal(t, int64(1), count)
}

func TestRedisStore_ReserveAll_AllOrNothing(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	agentKey := "budget:agent:a1:day:2026-09-01"
	tenantKey := "budget:tenant:t1:month:2026-09"

	// Fill the agent scope to its cap.
	for range 10 {
		_, err := store.ReserveAll(ctx, []Reservation{
			{Key: agentKey, Amount: 10, Cap: 100, TTL: time.Hour},
			{Key: tenantKey, Amount: 10, Cap: 1000, TTL: 24 * time.Hour},
		})
		require.NoError(t, err)
	}

	results, err := store.ReserveAll(ctx, []Reservation{
		{Key: agentKey, Amount: 10, Cap: 100, TTL: time.Hour},
		{Key: tenantKey, Amount: 10, Cap: 1000, TTL: 24 * time.Hour},
	})
	require.NoError(t, err)

	assert.False(t, results[0].Accepted, "agent scope is over cap")
	assert.True(t, results[1].Accepted, "tenant scope alone was under cap")

	// Nothing committed on either scope.
	amount, _, err := store.Usage(ctx, tenantKey)
	require.NoError(t, err)
	assert.Equal(t, int64(100), amount, "tenant must not be charged when the agent scope rejects")
}

func TestRedisStore_ReserveAll_SetsTTLOnFirstWrite(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	key := "budget:agent:a1:day:2026-09-01"
	_, err := store.ReserveAll(ctx, []Reservation{{Key: key, Amount: 1, Cap: 10, TTL: time.Hour}})
	require.NoError(t, err)

	ttl := mr.TTL(key)
	assert.Greater(t, ttl, time.Duration(0), "window key must expire on its own")
	assert.LessOrEqual(t, ttl, time.Hour)

	// A second charge must not reset the TTL clock.
	mr.FastForward(30 * time.Minute)
	_, err = store.ReserveAll(ctx, []Reservation{{Key: key, Amount: 1, Cap: 10, TTL: time.Hour}})
	require.NoError(t, err)
	assert.LessOrEqual(t, mr.TTL(key), 30*time.Minute)
}

func TestRedisStore_ReserveAll_Race(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	key := "budget:agent:race:day:2026-09-01"

	const workers = 20
	var wg sync.WaitGroup
	accepted := make([]bool, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := store.ReserveAll(ctx, []Reservation{
				{Key: key, Amount: 10, Cap: 50, TTL: time.Hour},
			})
			if err == nil && results[0].Accepted {
				accepted[i] = true
			}
		}()
	}
	wg.Wait()

	wins := 0
	for _, ok := range accepted {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 5, wins)

	amount, _, err := store.Usage(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(50), amount, "total spend must equal the cap exactly")
}

func TestRedisStore_Usage_MissingKey(t *testing.T) {
	store, _ := newRedisStore(t)

	amount, count, err := store.Usage(context.Background(), "budget:agent:ghost:day:2026-09-01")
	require.NoError(t, err)
	assert.Zero(t, amount)
	assert.Zero(t, count)
}
