package msglog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppendAssignsIdentity(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return base }))
	defer store.Close()

	msg, err := store.Append(context.Background(), Message{
		FromAgent: "coordinator",
		ToAgent:   "finance",
		Type:      TypeRequest,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, base, msg.Timestamp)
}

func TestMemoryStoreRejectsInvalidEnvelopes(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	_, err := store.Append(context.Background(), Message{Type: TypeRequest})
	assert.Error(t, err, "missing target agent")

	_, err = store.Append(context.Background(), Message{ToAgent: "finance", Type: "broadcast"})
	assert.Error(t, err, "unknown message type")
}

func TestMemoryStoreOrdering(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return base }))
	defer store.Close()
	ctx := context.Background()

	_, err := store.Append(ctx, Message{ID: "low-old", ToAgent: "finance", Type: TypeRequest, Priority: 1, Timestamp: base.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = store.Append(ctx, Message{ID: "high-new", ToAgent: "finance", Type: TypeNotification, Priority: 9, Timestamp: base.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = store.Append(ctx, Message{ID: "high-old", ToAgent: "finance", Type: TypeDelegation, Priority: 9, Timestamp: base.Add(-2 * time.Hour)})
	require.NoError(t, err)
	_, err = store.Append(ctx, Message{ID: "other", ToAgent: "memory", Type: TypeRequest, Priority: 10, Timestamp: base})
	require.NoError(t, err)

	msgs, err := store.ForAgent(ctx, "finance", time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "high-old", msgs[0].ID)
	assert.Equal(t, "high-new", msgs[1].ID)
	assert.Equal(t, "low-old", msgs[2].ID)
}

func TestMemoryStoreDefaultWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return base }))
	defer store.Close()
	ctx := context.Background()

	_, err := store.Append(ctx, Message{ToAgent: "finance", Type: TypeRequest, Timestamp: base.Add(-25 * time.Hour)})
	require.NoError(t, err)
	_, err = store.Append(ctx, Message{ToAgent: "finance", Type: TypeRequest, Timestamp: base.Add(-23 * time.Hour)})
	require.NoError(t, err)

	msgs, err := store.ForAgent(ctx, "finance", time.Time{})
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "only messages inside the 24h window")
}

func TestMemoryStoreCleanup(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return base }))
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, Message{ToAgent: "finance", Type: TypeRequest, Timestamp: base.Add(-time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	removed, err := store.Cleanup(ctx, base.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.Append(context.Background(), Message{ToAgent: "finance", Type: TypeRequest})
	assert.Error(t, err)

	_, err = store.ForAgent(context.Background(), "finance", time.Time{})
	assert.Error(t, err)
}
