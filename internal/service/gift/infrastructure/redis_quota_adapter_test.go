package infrastructure

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"giftgate/internal/pkg/redis"
	"giftgate/internal/service/gift/domain"
)

func newRedisQuotaAdapter(t *testing.T) (*RedisQuotaAdapter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	a, err := NewRedisQuotaAdapter(c)
	require.NoError(t, err)
	return a, mr
}

func TestRedisQuotaAdapterFindMissing(t *testing.T) {
	a, _ := newRedisQuotaAdapter(t)
	_, err := a.FindQuota(context.Background(), "0912")
	assert.ErrorIs(t, err, domain.ErrQuotaNotFound)
}

func TestRedisQuotaAdapterGetOrCreate(t *testing.T) {
	a, mr := newRedisQuotaAdapter(t)
	ctx := context.Background()

	rec, created, err := a.GetOrCreateQuota(ctx, "0912", 1)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, rec.GiftNumber)
	assert.Equal(t, "0912", rec.PhoneNumber)

	again, created, err := a.GetOrCreateQuota(ctx, "0912", 5)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, 1, again.GiftNumber)

	other, created, err := a.GetOrCreateQuota(ctx, "0935", 1)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, rec.ID, other.ID)

	v, err := mr.Get("gift:{quota}:phone:0912")
	require.NoError(t, err)
	assert.NotEmpty(t, v)

	found, err := a.FindQuota(ctx, "0912")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
}

func TestRedisQuotaAdapterDecrement(t *testing.T) {
	a, _ := newRedisQuotaAdapter(t)
	ctx := context.Background()

	rec, _, err := a.GetOrCreateQuota(ctx, "0912", 2)
	require.NoError(t, err)

	consumed, remaining, err := a.DecrementQuota(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, 1, remaining)

	consumed, remaining, err = a.DecrementQuota(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, 0, remaining)

	consumed, remaining, err = a.DecrementQuota(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, consumed)
	assert.Equal(t, 0, remaining)

	_, _, err = a.DecrementQuota(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrQuotaNotFound)
}

func TestRedisQuotaAdapterConcurrentDecrement(t *testing.T) {
	cases := []struct {
		name    string
		initial int
		callers int
	}{
		{name: "single unit", initial: 1, callers: 10},
		{name: "three units", initial: 3, callers: 10},
		{name: "more units than callers", initial: 20, callers: 8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := newRedisQuotaAdapter(t)
			ctx := context.Background()
			rec, _, err := a.GetOrCreateQuota(ctx, "0912", tc.initial)
			require.NoError(t, err)

			var (
				wg        sync.WaitGroup
				successes atomic.Int64
			)
			for i := 0; i < tc.callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					consumed, _, err := a.DecrementQuota(ctx, rec.ID)
					assert.NoError(t, err)
					if consumed {
						successes.Add(1)
					}
				}()
			}
			wg.Wait()

			want := min(tc.callers, tc.initial)
			assert.Equal(t, int64(want), successes.Load())

			final, err := a.FindQuota(ctx, "0912")
			require.NoError(t, err)
			assert.Equal(t, tc.initial-want, final.GiftNumber)
		})
	}
}
