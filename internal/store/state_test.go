package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cross-maker-go/internal/engine"
	"cross-maker-go/leg"
	"cross-maker-go/ledger"
	"cross-maker-go/pricing"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestStateStoreRoundTrip(t *testing.T) {
	_, client := newRedis(t)
	st := NewStateStore(client, "cross-maker:test", 0)
	ctx := context.Background()

	_, ok, err := st.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	snap := engine.Snapshot{
		Pricing: pricing.State{TheoreticalPrice: -6, SkewUpper: 1.5, RelativeTargetPosition: -1, Seeded: true, DownCrossings: 1},
		Peak:    20000,
		SavedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	snap.Ledgers[leg.A] = ledger.Snapshot{Base: 1, Quote: 9000, Position: 9.95, TradeCount: 3}
	snap.Ledgers[leg.B] = ledger.Snapshot{Position: -8.91}
	require.NoError(t, st.Save(ctx, snap))

	got, ok, err := st.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap, got)

	require.NoError(t, st.Clear(ctx))
	_, ok, err = st.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateStoreTTLAndSavedAt(t *testing.T) {
	mr, client := newRedis(t)
	st := NewStateStore(client, "k", time.Hour)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, engine.Snapshot{Peak: 1}))
	assert.Equal(t, time.Hour, mr.TTL("k"))

	got, ok, err := st.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.SavedAt.IsZero())
}

func TestStateStoreCorruptValue(t *testing.T) {
	mr, client := newRedis(t)
	require.NoError(t, mr.Set("k", "{not json"))

	_, ok, err := NewStateStore(client, "k", 0).Load(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestStateStoreUnavailable(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	err := NewStateStore(client, "k", 0).Save(context.Background(), engine.Snapshot{})
	assert.Error(t, err)
}
