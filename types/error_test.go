package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrNotFound, "delegation request %s not found", "req-1")
	assert.Equal(t, "[NOT_FOUND] delegation request req-1 not found", err.Error())

	cause := errors.New("connection refused")
	withCause := NewError(ErrStoreUnavailable, "redis append failed").WithCause(cause)
	assert.Contains(t, withCause.Error(), "connection refused")
	assert.Equal(t, cause, errors.Unwrap(withCause))
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"typed error", NewError(ErrUnauthorized, "not the target agent"), ErrUnauthorized},
		{"wrapped typed error", fmt.Errorf("respond: %w", NewError(ErrInvalidState, "already answered")), ErrInvalidState},
		{"plain error", errors.New("boom"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorCode(tt.err))
		})
	}
}

func TestIsCode(t *testing.T) {
	err := NewError(ErrNoCandidates, "no agents registered")
	assert.True(t, IsCode(err, ErrNoCandidates))
	assert.False(t, IsCode(err, ErrNotFound))
	assert.False(t, IsCode(nil, ErrNotFound))
}

func TestTaskContext_Validate(t *testing.T) {
	ctx := NewTaskContext()
	require.NoError(t, ctx.Validate())

	ctx.Messages = append(ctx.Messages, ContextMessage{Role: "user", Content: "check my expenses"})
	require.NoError(t, ctx.Validate())

	ctx.Messages = append(ctx.Messages, ContextMessage{Content: "missing role"})
	err := ctx.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrInvalidArgument, GetErrorCode(err))

	future := TaskContext{Version: PayloadVersion + 1}
	assert.Equal(t, ErrInvalidArgument, GetErrorCode(future.Validate()))

	var zero TaskContext
	assert.Equal(t, ErrInvalidArgument, GetErrorCode(zero.Validate()))
}

func TestProgressData_Validate(t *testing.T) {
	p := NewProgressData()
	require.NoError(t, p.Validate())

	p.PercentDone = 55
	p.CompletedSteps = []string{"fetch", "classify"}
	require.NoError(t, p.Validate())

	p.PercentDone = 101
	assert.Equal(t, ErrInvalidArgument, GetErrorCode(p.Validate()))

	p.PercentDone = -1
	assert.Equal(t, ErrInvalidArgument, GetErrorCode(p.Validate()))
}
