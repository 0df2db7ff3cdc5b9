// Package collab groups related tasks into collaboration sessions.
// A session's status is never set directly: it is re-derived from its
// member tasks after every task status change.
package collab

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/registry"
	"github.com/taskmesh/taskmesh/types"
)

// TaskStatus is the collaboration task lifecycle state.
type TaskStatus string

const (
	TaskPending         TaskStatus = "pending"
	TaskInProgress      TaskStatus = "in_progress"
	TaskCompleted       TaskStatus = "completed"
	TaskFailed          TaskStatus = "failed"
	TaskDelegated       TaskStatus = "delegated"
	TaskWaitingForInput TaskStatus = "waiting_for_input"
)

// ParseTaskStatus validates a status string against the closed set.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch ts := TaskStatus(s); ts {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed,
		TaskDelegated, TaskWaitingForInput:
		return ts, nil
	default:
		return "", types.NewError(types.ErrInvalidArgument, "invalid task status %q", s)
	}
}

// IsTerminal reports whether the status permits no further transition.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// allowedTransitions encodes the task state machine: pending starts
// work, in_progress settles or parks in a side state, side states
// resume.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:         {TaskInProgress},
	TaskInProgress:      {TaskCompleted, TaskFailed, TaskDelegated, TaskWaitingForInput},
	TaskDelegated:       {TaskInProgress},
	TaskWaitingForInput: {TaskInProgress},
}

func transitionAllowed(from, to TaskStatus) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// SessionStatus is derived from member tasks, never set directly.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// Task is one unit of work inside a collaboration session.
type Task struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	RequiredAgents []string       `json:"required_agents"`
	Status         TaskStatus     `json:"status"`
	Priority       int            `json:"priority"`
	OwnerAgent     string         `json:"owner_agent"`
	AssignedAgent  string         `json:"assigned_agent,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Results        map[string]any `json:"results,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (t *Task) clone() Task {
	out := *t
	out.RequiredAgents = append([]string(nil), t.RequiredAgents...)
	out.Dependencies = append([]string(nil), t.Dependencies...)
	out.Context = copyMap(t.Context)
	out.Results = copyMap(t.Results)
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Session wraps the tasks that together satisfy one user request.
type Session struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Participants []string      `json:"participants"`
	TaskIDs      []string      `json:"task_ids"`
	Status       SessionStatus `json:"status"`
	Priority     int           `json:"priority"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (s *Session) clone() Session {
	out := *s
	out.Participants = append([]string(nil), s.Participants...)
	out.TaskIDs = append([]string(nil), s.TaskIDs...)
	return out
}

// Stats summarizes registry state for system status queries.
type Stats struct {
	Sessions          int `json:"sessions"`
	SessionsCompleted int `json:"sessions_completed"`
	SessionsFailed    int `json:"sessions_failed"`
	Tasks             int `json:"tasks"`
	TasksTerminal     int `json:"tasks_terminal"`
}

// Registry owns all tasks and sessions.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	sessions map[string]*Session

	agents *registry.Registry
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a session registry over the given agent roster.
func New(agents *registry.Registry, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		tasks:    make(map[string]*Task),
		sessions: make(map[string]*Session),
		agents:   agents,
		logger:   logger.With(zap.String("component", "session_registry")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSessionParams are the inputs to CreateSession.
type CreateSessionParams struct {
	Title                string
	Description          string
	RequiredCapabilities []string
	Priority             int
}

// SessionResult is what CreateSession hands back to the caller.
type SessionResult struct {
	SessionID      string   `json:"session_id"`
	TaskID         string   `json:"task_id"`
	RequiredAgents []string `json:"required_agents"`
}

// CreateSession derives the participant set from the requested
// capabilities (case-insensitive substring match over capability
// names, specializations, and preferred task types), creates one seed
// task, and wraps both in a session. When no capability matches any
// agent, the designated coordinator agent is assigned so a session is
// never created with zero participants.
func (r *Registry) CreateSession(ctx context.Context, p CreateSessionParams) (SessionResult, error) {
	if err := ctx.Err(); err != nil {
		return SessionResult{}, err
	}
	if p.Title == "" {
		return SessionResult{}, types.NewError(types.ErrInvalidArgument, "session title is required")
	}
	if p.Priority == 0 {
		p.Priority = 5
	}

	required := r.deriveRequiredAgents(p.RequiredCapabilities)
	if len(required) == 0 {
		return SessionResult{}, types.NewError(types.ErrNoCandidates, "no agents registered to participate")
	}

	now := r.now()
	owner := required[0]
	if contains(required, registry.CoordinatorAgentID) {
		owner = registry.CoordinatorAgentID
	}

	task := &Task{
		ID:             uuid.New().String(),
		Title:          p.Title,
		Description:    p.Description,
		RequiredAgents: required,
		Status:         TaskPending,
		Priority:       p.Priority,
		OwnerAgent:     owner,
		AssignedAgent:  required[0],
		MaxRetries:     3,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	session := &Session{
		ID:           uuid.New().String(),
		Title:        p.Title,
		Description:  p.Description,
		Participants: append([]string(nil), required...),
		TaskIDs:      []string{task.ID},
		Status:       SessionInProgress,
		Priority:     p.Priority,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	task.SessionID = session.ID

	r.mu.Lock()
	r.tasks[task.ID] = task
	r.sessions[session.ID] = session
	r.mu.Unlock()

	r.logger.Info("created collaboration session",
		zap.String("session", session.ID),
		zap.String("seed_task", task.ID),
		zap.Strings("participants", required),
	)
	return SessionResult{
		SessionID:      session.ID,
		TaskID:         task.ID,
		RequiredAgents: append([]string(nil), required...),
	}, nil
}

// deriveRequiredAgents maps capability strings to roster members.
// Falls back to the coordinator agent, then to the roster as a whole,
// so the result is empty only when the roster is.
func (r *Registry) deriveRequiredAgents(capabilities []string) []string {
	profiles := r.agents.List()
	seen := make(map[string]bool)
	var required []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			required = append(required, id)
		}
	}

	for _, capability := range capabilities {
		for _, p := range profiles {
			if profileMatches(p, capability) {
				add(p.ID)
			}
		}
	}
	if len(required) > 0 {
		sort.Strings(required)
		return required
	}

	if r.agents.Has(registry.CoordinatorAgentID) {
		return []string{registry.CoordinatorAgentID}
	}
	if len(profiles) > 0 {
		return []string{profiles[0].ID}
	}
	return nil
}

func profileMatches(p registry.AgentProfile, capability string) bool {
	needle := strings.ToLower(strings.TrimSpace(capability))
	if needle == "" {
		return false
	}
	for _, c := range p.Capabilities {
		if strings.Contains(strings.ToLower(c.Name), needle) || strings.Contains(needle, strings.ToLower(c.Name)) {
			return true
		}
	}
	for _, s := range p.Specializations {
		if strings.Contains(strings.ToLower(s), needle) || strings.Contains(needle, strings.ToLower(s)) {
			return true
		}
	}
	for _, t := range p.PreferredTaskTypes {
		if strings.Contains(strings.ToLower(t), needle) || strings.Contains(needle, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// UpdateTaskParams are the inputs to UpdateTaskStatus.
type UpdateTaskParams struct {
	TaskID string
	Status string
	Results map[string]any
	// Agent, when set, becomes the task's assigned agent and joins the
	// required-agent set and session participants.
	Agent string
}

// UpdateTaskStatus applies a validated status transition to the task,
// merges any results, then re-derives the owning session's status by
// scanning all member tasks. This is the only path that changes a
// session's status.
func (r *Registry) UpdateTaskStatus(ctx context.Context, p UpdateTaskParams) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	status, err := ParseTaskStatus(p.Status)
	if err != nil {
		return Task{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[p.TaskID]
	if !ok {
		return Task{}, types.NewError(types.ErrNotFound, "task %s not found", p.TaskID)
	}
	if !transitionAllowed(task.Status, status) {
		return Task{}, types.NewError(types.ErrInvalidState,
			"task %s cannot move %s -> %s", p.TaskID, task.Status, status)
	}

	now := r.now()
	task.Status = status
	task.UpdatedAt = now
	if len(p.Results) > 0 {
		if task.Results == nil {
			task.Results = make(map[string]any, len(p.Results))
		}
		for k, v := range p.Results {
			task.Results[k] = v
		}
	}
	if p.Agent != "" {
		task.AssignedAgent = p.Agent
		if !contains(task.RequiredAgents, p.Agent) {
			task.RequiredAgents = append(task.RequiredAgents, p.Agent)
			sort.Strings(task.RequiredAgents)
		}
	}

	if session, ok := r.sessions[task.SessionID]; ok {
		if p.Agent != "" && !contains(session.Participants, p.Agent) {
			session.Participants = append(session.Participants, p.Agent)
			sort.Strings(session.Participants)
		}
		r.rederiveLocked(session, now)
	}

	r.logger.Debug("updated task status",
		zap.String("task", task.ID),
		zap.String("status", string(status)),
	)
	return task.clone(), nil
}

// rederiveLocked recomputes a session's status from its member tasks.
// Caller holds the write lock.
func (r *Registry) rederiveLocked(session *Session, now time.Time) {
	derived := SessionCompleted
	anyMember := false
	for _, id := range session.TaskIDs {
		task, ok := r.tasks[id]
		if !ok {
			continue
		}
		anyMember = true
		if task.Status == TaskFailed {
			derived = SessionFailed
			break
		}
		if task.Status != TaskCompleted {
			derived = SessionInProgress
		}
	}
	if !anyMember {
		derived = SessionInProgress
	}
	if session.Status != derived {
		session.Status = derived
		session.UpdatedAt = now
		r.logger.Info("session status derived",
			zap.String("session", session.ID),
			zap.String("status", string(derived)),
		)
	}
}

// AddTask appends a new member task to an existing session and
// re-derives the session status.
func (r *Registry) AddTask(ctx context.Context, sessionID string, p CreateSessionParams) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	if p.Title == "" {
		return Task{}, types.NewError(types.ErrInvalidArgument, "task title is required")
	}

	required := r.deriveRequiredAgents(p.RequiredCapabilities)
	if len(required) == 0 {
		return Task{}, types.NewError(types.ErrNoCandidates, "no agents registered to participate")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return Task{}, types.NewError(types.ErrNotFound, "session %s not found", sessionID)
	}

	now := r.now()
	if p.Priority == 0 {
		p.Priority = session.Priority
	}
	task := &Task{
		ID:             uuid.New().String(),
		SessionID:      session.ID,
		Title:          p.Title,
		Description:    p.Description,
		RequiredAgents: required,
		Status:         TaskPending,
		Priority:       p.Priority,
		OwnerAgent:     required[0],
		AssignedAgent:  required[0],
		MaxRetries:     3,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.tasks[task.ID] = task
	session.TaskIDs = append(session.TaskIDs, task.ID)
	for _, id := range required {
		if !contains(session.Participants, id) {
			session.Participants = append(session.Participants, id)
		}
	}
	sort.Strings(session.Participants)
	r.rederiveLocked(session, now)

	return task.clone(), nil
}

// GetTask returns a copy of the task with the given id.
func (r *Registry) GetTask(taskID string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return Task{}, types.NewError(types.ErrNotFound, "task %s not found", taskID)
	}
	return task.clone(), nil
}

// GetSession returns a copy of the session with the given id.
func (r *Registry) GetSession(sessionID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, types.NewError(types.ErrNotFound, "session %s not found", sessionID)
	}
	return session.clone(), nil
}

// Status is the full read model for one session.
type Status struct {
	Session Session `json:"session"`
	Tasks   []Task  `json:"tasks"`
}

// SessionStatusOf returns the session together with copies of its
// member tasks.
func (r *Registry) SessionStatusOf(sessionID string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return Status{}, types.NewError(types.ErrNotFound, "session %s not found", sessionID)
	}
	out := Status{Session: session.clone()}
	for _, id := range session.TaskIDs {
		if task, ok := r.tasks[id]; ok {
			out.Tasks = append(out.Tasks, task.clone())
		}
	}
	return out, nil
}

// Stats returns counts for system status queries.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Sessions: len(r.sessions), Tasks: len(r.tasks)}
	for _, session := range r.sessions {
		switch session.Status {
		case SessionCompleted:
			s.SessionsCompleted++
		case SessionFailed:
			s.SessionsFailed++
		}
	}
	for _, task := range r.tasks {
		if task.Status.IsTerminal() {
			s.TasksTerminal++
		}
	}
	return s
}

// Cleanup removes COMPLETED/FAILED sessions and terminal tasks whose
// last update is older than the cutoff; everything still pending or
// in progress is untouched. Returns the removed sessions for
// archiving.
func (r *Registry) Cleanup(cutoff time.Time) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Session
	for id, session := range r.sessions {
		if session.Status == SessionInProgress || session.UpdatedAt.After(cutoff) {
			continue
		}
		removed = append(removed, session.clone())
		delete(r.sessions, id)
	}
	for id, task := range r.tasks {
		if task.Status.IsTerminal() && !task.UpdatedAt.After(cutoff) {
			delete(r.tasks, id)
		}
	}
	return removed
}
