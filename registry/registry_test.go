package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/types"
)

func testProfile(id string, max int) AgentProfile {
	return AgentProfile{
		ID:   id,
		Name: id,
		Capabilities: []AgentCapability{
			{Name: "memory_search", Proficiency: 0.9, Confidence: 0.8},
		},
		MaxWorkload: max,
		SuccessRate: 0.8,
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := New(zap.NewNop())

	tests := []struct {
		name    string
		profile AgentProfile
		code    types.ErrorCode
	}{
		{"missing id", AgentProfile{MaxWorkload: 3}, types.ErrInvalidArgument},
		{"zero capacity", AgentProfile{ID: "a"}, types.ErrInvalidArgument},
		{
			"proficiency out of range",
			AgentProfile{ID: "a", MaxWorkload: 3, Capabilities: []AgentCapability{{Name: "x", Proficiency: 1.2, Confidence: 0.5}}},
			types.ErrInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.profile)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
		})
	}

	require.NoError(t, r.Register(testProfile("memory", 5)))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := New(zap.NewNop())
	require.NoError(t, r.Register(testProfile("memory", 5)))

	got, err := r.Get("memory")
	require.NoError(t, err)
	got.Capabilities[0].Proficiency = 0.1
	got.CurrentWorkload = 42

	again, err := r.Get("memory")
	require.NoError(t, err)
	assert.Equal(t, 0.9, again.Capabilities[0].Proficiency)
	assert.Equal(t, 0, again.CurrentWorkload)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := New(zap.NewNop())
	_, err := r.Get("ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestRegistry_ReserveRelease(t *testing.T) {
	r := New(zap.NewNop())
	require.NoError(t, r.Register(testProfile("memory", 2)))

	require.NoError(t, r.ReserveSlot("memory"))
	require.NoError(t, r.ReserveSlot("memory"))
	// Reservations past capacity are granted; capacity only affects scoring.
	require.NoError(t, r.ReserveSlot("memory"))

	w, err := r.Workload("memory")
	require.NoError(t, err)
	assert.Equal(t, 3, w.CurrentWorkload)
	assert.InDelta(t, 1.5, w.Utilization, 1e-9)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.ReleaseSlot("memory"))
	}
	w, err = r.Workload("memory")
	require.NoError(t, err)
	assert.Equal(t, 0, w.CurrentWorkload, "release clamps at zero")

	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(r.ReserveSlot("ghost")))
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(r.ReleaseSlot("ghost")))
}

func TestRegistry_RecordOutcome(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New(zap.NewNop(), WithClock(func() time.Time { return now }))
	p := testProfile("memory", 5)
	p.SuccessRate = 0.5
	require.NoError(t, r.Register(p))

	require.NoError(t, r.RecordOutcome("memory", true, 2*time.Second, "memory_search"))
	got, err := r.Get("memory")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.SuccessRate, 1e-9)
	assert.Equal(t, 2*time.Second, got.AverageResponseTime)
	require.NotNil(t, got.Capabilities[0].LastUsed)
	assert.Equal(t, now, *got.Capabilities[0].LastUsed)
	assert.Equal(t, now, got.LastActive)

	require.NoError(t, r.RecordOutcome("memory", false, 4*time.Second, ""))
	got, err = r.Get("memory")
	require.NoError(t, err)
	assert.InDelta(t, 0.48, got.SuccessRate, 1e-9)
	assert.Greater(t, got.AverageResponseTime, 2*time.Second)
}

func TestRegistry_Workloads(t *testing.T) {
	r := New(zap.NewNop())
	require.NoError(t, r.Register(testProfile("memory", 5)))
	require.NoError(t, r.Register(testProfile("finance", 4)))
	require.NoError(t, r.ReserveSlot("finance"))

	all := r.Workloads()
	require.Len(t, all, 2)
	assert.Equal(t, "finance", all[0].AgentID)
	assert.Equal(t, 1, all[0].CurrentWorkload)
	assert.Equal(t, "memory", all[1].AgentID)
}

func TestDefaultRoster_Seeds(t *testing.T) {
	r := New(zap.NewNop())
	require.NoError(t, r.Seed(DefaultRoster()))
	assert.Equal(t, 4, r.Len())
	assert.True(t, r.Has(CoordinatorAgentID))
	assert.True(t, r.Has("finance"))
	for _, p := range r.List() {
		assert.False(t, p.LastActive.IsZero())
	}
}
