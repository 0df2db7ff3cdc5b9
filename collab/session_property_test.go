package collab

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/taskmesh/taskmesh/registry"
)

// After any sequence of task transitions, the session status must
// equal the aggregation rule: FAILED iff any member failed, else
// COMPLETED iff all members completed, else IN_PROGRESS.
func TestProperty_SessionStatusAggregation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		agents := registry.New(zap.NewNop(), registry.WithClock(clock))
		require.NoError(rt, agents.Seed(registry.DefaultRoster()))
		sessions := New(agents, zap.NewNop(), WithClock(clock))

		res, err := sessions.CreateSession(context.Background(), CreateSessionParams{Title: "prop"})
		require.NoError(rt, err)

		taskIDs := []string{res.TaskID}
		numExtra := rapid.IntRange(0, 4).Draw(rt, "numExtra")
		for i := 0; i < numExtra; i++ {
			task, err := sessions.AddTask(context.Background(), res.SessionID, CreateSessionParams{
				Title: fmt.Sprintf("member-%d", i),
			})
			require.NoError(rt, err)
			taskIDs = append(taskIDs, task.ID)
		}

		// Drive each task through a random (valid) path.
		steps := rapid.IntRange(0, 20).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			id := rapid.SampledFrom(taskIDs).Draw(rt, "task")
			current, err := sessions.GetTask(id)
			require.NoError(rt, err)
			nexts := allowedTransitions[current.Status]
			if len(nexts) == 0 {
				continue
			}
			next := rapid.SampledFrom(nexts).Draw(rt, "next")
			_, err = sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
				TaskID: id, Status: string(next),
			})
			require.NoError(rt, err)
		}

		// Recompute the expected aggregate independently.
		anyFailed, allCompleted := false, true
		for _, id := range taskIDs {
			task, err := sessions.GetTask(id)
			require.NoError(rt, err)
			if task.Status == TaskFailed {
				anyFailed = true
			}
			if task.Status != TaskCompleted {
				allCompleted = false
			}
		}
		want := SessionInProgress
		switch {
		case anyFailed:
			want = SessionFailed
		case allCompleted:
			want = SessionCompleted
		}

		session, err := sessions.GetSession(res.SessionID)
		require.NoError(rt, err)
		if session.Status != want {
			rt.Fatalf("session status %s, want %s", session.Status, want)
		}
	})
}
