package types

import "time"

// PayloadVersion is the current schema version for TaskContext and
// ProgressData. Consumers reject payloads with a higher version than
// they understand.
const PayloadVersion = 1

// ContextMessage is one conversation turn carried inside a TaskContext.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TaskContext is the full execution context transferred with a task.
// It replaces free-form caller-supplied maps with a versioned record
// so handoff consumers can validate shape before trusting it.
type TaskContext struct {
	Version        int              `json:"version"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Messages       []ContextMessage `json:"messages,omitempty"`
	Variables      map[string]any   `json:"variables,omitempty"`
	ParentTaskID   string           `json:"parent_task_id,omitempty"`
}

// NewTaskContext returns an empty context at the current version.
func NewTaskContext() TaskContext {
	return TaskContext{Version: PayloadVersion}
}

// Validate checks the context is well-formed and at a supported version.
func (c TaskContext) Validate() error {
	if c.Version <= 0 {
		return NewError(ErrInvalidArgument, "task context version must be set")
	}
	if c.Version > PayloadVersion {
		return NewError(ErrInvalidArgument, "unsupported task context version %d", c.Version)
	}
	for i, m := range c.Messages {
		if m.Role == "" {
			return NewError(ErrInvalidArgument, "task context message %d has empty role", i)
		}
	}
	return nil
}

// ProgressData captures the partial results accumulated before a
// handoff, so the receiving agent can resume instead of restarting.
type ProgressData struct {
	Version        int            `json:"version"`
	PercentDone    float64        `json:"percent_done"`
	CompletedSteps []string       `json:"completed_steps,omitempty"`
	PartialResults map[string]any `json:"partial_results,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty"`
}

// NewProgressData returns empty progress at the current version.
func NewProgressData() ProgressData {
	return ProgressData{Version: PayloadVersion}
}

// Validate checks the progress record is well-formed and at a
// supported version.
func (p ProgressData) Validate() error {
	if p.Version <= 0 {
		return NewError(ErrInvalidArgument, "progress data version must be set")
	}
	if p.Version > PayloadVersion {
		return NewError(ErrInvalidArgument, "unsupported progress data version %d", p.Version)
	}
	if p.PercentDone < 0 || p.PercentDone > 100 {
		return NewError(ErrInvalidArgument, "percent done must be within [0,100], got %v", p.PercentDone)
	}
	return nil
}
