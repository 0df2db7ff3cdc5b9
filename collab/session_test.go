package collab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/registry"
	"github.com/taskmesh/taskmesh/types"
)

type fixture struct {
	sessions *Registry
	agents   *registry.Registry
	now      time.Time
	advance  func(time.Duration)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.advance = func(d time.Duration) { f.now = f.now.Add(d) }

	f.agents = registry.New(zap.NewNop(), registry.WithClock(clock))
	require.NoError(t, f.agents.Seed(registry.DefaultRoster()))
	f.sessions = New(f.agents, zap.NewNop(), WithClock(clock))
	return f
}

func (f *fixture) startTask(t *testing.T, taskID string) {
	t.Helper()
	_, err := f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: taskID, Status: "in_progress",
	})
	require.NoError(t, err)
}

func TestParseTaskStatus(t *testing.T) {
	for _, valid := range []string{
		"pending", "in_progress", "completed", "failed", "delegated", "waiting_for_input",
	} {
		_, err := ParseTaskStatus(valid)
		assert.NoError(t, err, valid)
	}
	_, err := ParseTaskStatus("paused")
	assert.Equal(t, types.ErrInvalidArgument, types.GetErrorCode(err))
}

func TestCreateSession_DerivesParticipants(t *testing.T) {
	f := newFixture(t)

	res, err := f.sessions.CreateSession(context.Background(), CreateSessionParams{
		Title:                "monthly budget review",
		RequiredCapabilities: []string{"expense_tracking", "memory_search"},
		Priority:             7,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"finance", "memory"}, res.RequiredAgents)

	session, err := f.sessions.GetSession(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, SessionInProgress, session.Status)
	assert.Equal(t, []string{"finance", "memory"}, session.Participants)
	require.Len(t, session.TaskIDs, 1)

	task, err := f.sessions.GetTask(res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, res.SessionID, task.SessionID)
}

func TestCreateSession_CoordinatorFallback(t *testing.T) {
	f := newFixture(t)

	res, err := f.sessions.CreateSession(context.Background(), CreateSessionParams{
		Title:                "interpretive dance critique",
		RequiredCapabilities: []string{"interpretive_dance"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{registry.CoordinatorAgentID}, res.RequiredAgents,
		"no capability match falls back to the coordinator, never zero participants")
}

func TestCreateSession_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.sessions.CreateSession(context.Background(), CreateSessionParams{})
	assert.Equal(t, types.ErrInvalidArgument, types.GetErrorCode(err))

	empty := New(registry.New(zap.NewNop()), zap.NewNop())
	_, err = empty.CreateSession(context.Background(), CreateSessionParams{Title: "x"})
	assert.Equal(t, types.ErrNoCandidates, types.GetErrorCode(err))
}

func TestUpdateTaskStatus_TransitionRules(t *testing.T) {
	f := newFixture(t)
	res, err := f.sessions.CreateSession(context.Background(), CreateSessionParams{Title: "t"})
	require.NoError(t, err)

	// pending cannot settle directly.
	_, err = f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: res.TaskID, Status: "completed",
	})
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))

	f.startTask(t, res.TaskID)

	// side states park and resume.
	_, err = f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: res.TaskID, Status: "waiting_for_input",
	})
	require.NoError(t, err)
	_, err = f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: res.TaskID, Status: "in_progress",
	})
	require.NoError(t, err)

	task, err := f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: res.TaskID, Status: "completed", Results: map[string]any{"answer": 42},
	})
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.Equal(t, 42, task.Results["answer"])

	// terminal states are final.
	_, err = f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: res.TaskID, Status: "in_progress",
	})
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))
}

func TestUpdateTaskStatus_UnknownTask(t *testing.T) {
	f := newFixture(t)
	_, err := f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: "nope", Status: "in_progress",
	})
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestUpdateTaskStatus_AgentJoinsParticipants(t *testing.T) {
	f := newFixture(t)
	res, err := f.sessions.CreateSession(context.Background(), CreateSessionParams{
		Title:                "t",
		RequiredCapabilities: []string{"memory_search"},
	})
	require.NoError(t, err)

	_, err = f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: res.TaskID, Status: "in_progress", Agent: "finance",
	})
	require.NoError(t, err)

	task, err := f.sessions.GetTask(res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "finance", task.AssignedAgent)
	assert.Contains(t, task.RequiredAgents, "finance")

	session, err := f.sessions.GetSession(res.SessionID)
	require.NoError(t, err)
	assert.Contains(t, session.Participants, "finance")
}

func TestSessionStatus_Derivation(t *testing.T) {
	f := newFixture(t)
	res, err := f.sessions.CreateSession(context.Background(), CreateSessionParams{Title: "multi"})
	require.NoError(t, err)
	second, err := f.sessions.AddTask(context.Background(), res.SessionID, CreateSessionParams{Title: "second"})
	require.NoError(t, err)

	// One member completed, one pending: still in progress.
	f.startTask(t, res.TaskID)
	_, err = f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: res.TaskID, Status: "completed",
	})
	require.NoError(t, err)
	session, err := f.sessions.GetSession(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, SessionInProgress, session.Status)

	// All members completed: session completes.
	f.startTask(t, second.ID)
	_, err = f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: second.ID, Status: "completed",
	})
	require.NoError(t, err)
	session, err = f.sessions.GetSession(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, session.Status)
}

func TestSessionStatus_AnyFailureFailsSession(t *testing.T) {
	f := newFixture(t)
	res, err := f.sessions.CreateSession(context.Background(), CreateSessionParams{Title: "multi"})
	require.NoError(t, err)
	second, err := f.sessions.AddTask(context.Background(), res.SessionID, CreateSessionParams{Title: "second"})
	require.NoError(t, err)

	f.startTask(t, second.ID)
	_, err = f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: second.ID, Status: "failed",
	})
	require.NoError(t, err)

	session, err := f.sessions.GetSession(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, SessionFailed, session.Status, "one failed member fails the session even with pending members")
}

func TestSessionStatusOf(t *testing.T) {
	f := newFixture(t)
	res, err := f.sessions.CreateSession(context.Background(), CreateSessionParams{Title: "t"})
	require.NoError(t, err)

	status, err := f.sessions.SessionStatusOf(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, status.Session.ID)
	require.Len(t, status.Tasks, 1)
	assert.Equal(t, res.TaskID, status.Tasks[0].ID)

	_, err = f.sessions.SessionStatusOf("nope")
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestCleanup_RemovesOnlyTerminal(t *testing.T) {
	f := newFixture(t)

	done, err := f.sessions.CreateSession(context.Background(), CreateSessionParams{Title: "done"})
	require.NoError(t, err)
	f.startTask(t, done.TaskID)
	_, err = f.sessions.UpdateTaskStatus(context.Background(), UpdateTaskParams{
		TaskID: done.TaskID, Status: "completed",
	})
	require.NoError(t, err)

	openSession, err := f.sessions.CreateSession(context.Background(), CreateSessionParams{Title: "open"})
	require.NoError(t, err)

	removed := f.sessions.Cleanup(f.now)
	require.Len(t, removed, 1)
	assert.Equal(t, done.SessionID, removed[0].ID)

	_, err = f.sessions.GetSession(done.SessionID)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
	_, err = f.sessions.GetTask(done.TaskID)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	_, err = f.sessions.GetSession(openSession.SessionID)
	assert.NoError(t, err, "in-progress sessions survive cleanup")
	_, err = f.sessions.GetTask(openSession.TaskID)
	assert.NoError(t, err, "pending tasks survive cleanup")
}
