package msglog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	msg, err := store.Append(ctx, Message{
		FromAgent: "coordinator",
		ToAgent:   "finance",
		Type:      TypeDelegation,
		TaskID:    "task-1",
		Priority:  7,
		Timestamp: base,
		Content:   map[string]any{"reason": "expertise_required"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	msgs, err := store.ForAgent(ctx, "finance", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.Equal(t, TypeDelegation, msgs[0].Type)
	assert.Equal(t, "task-1", msgs[0].TaskID)
	assert.Equal(t, 7, msgs[0].Priority)
}

func TestRedisStoreOrdering(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Append(ctx, Message{ID: "low", ToAgent: "finance", Type: TypeRequest, Priority: 1, Timestamp: base.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = store.Append(ctx, Message{ID: "high-new", ToAgent: "finance", Type: TypeRequest, Priority: 8, Timestamp: base})
	require.NoError(t, err)
	_, err = store.Append(ctx, Message{ID: "high-old", ToAgent: "finance", Type: TypeRequest, Priority: 8, Timestamp: base.Add(-2 * time.Hour)})
	require.NoError(t, err)

	msgs, err := store.ForAgent(ctx, "finance", base.Add(-3*time.Hour))
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "high-old", msgs[0].ID)
	assert.Equal(t, "high-new", msgs[1].ID)
	assert.Equal(t, "low", msgs[2].ID)
}

func TestRedisStoreWindowFilter(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Append(ctx, Message{ToAgent: "finance", Type: TypeRequest, Timestamp: base.Add(-2 * time.Hour)})
	require.NoError(t, err)
	_, err = store.Append(ctx, Message{ToAgent: "finance", Type: TypeRequest, Timestamp: base})
	require.NoError(t, err)

	msgs, err := store.ForAgent(ctx, "finance", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestRedisStoreCleanup(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, agent := range []string{"finance", "memory"} {
		_, err := store.Append(ctx, Message{ToAgent: agent, Type: TypeRequest, Timestamp: base.Add(-48 * time.Hour)})
		require.NoError(t, err)
		_, err = store.Append(ctx, Message{ToAgent: agent, Type: TypeRequest, Timestamp: base})
		require.NoError(t, err)
	}

	removed, err := store.Cleanup(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
}

func TestRedisStoreRejectsInvalidEnvelopes(t *testing.T) {
	store := newTestRedisStore(t)

	_, err := store.Append(context.Background(), Message{Type: TypeRequest})
	assert.Error(t, err)

	_, err = store.Append(context.Background(), Message{ToAgent: "finance", Type: "gossip"})
	assert.Error(t, err)
}
