// Package handoff transfers a task's live execution context and
// partial progress between agents. Unlike a delegation, a handoff is
// already agreed upon by the calling context: there is no accept or
// reject step, workload moves immediately, and the transfer carries
// the partial results accumulated so far.
package handoff

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/registry"
	"github.com/taskmesh/taskmesh/types"
)

// DefaultHistoryLimit bounds the rolling completion history ring.
const DefaultHistoryLimit = 256

// Status is the handoff lifecycle state.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Handoff is one in-flight or settled transfer.
type Handoff struct {
	ID             string             `json:"id"`
	OriginalTaskID string             `json:"original_task_id"`
	FromAgent      string             `json:"from_agent"`
	ToAgent        string             `json:"to_agent"`
	Context        types.TaskContext  `json:"task_context"`
	Progress       types.ProgressData `json:"progress_data"`
	Reason         string             `json:"handoff_reason,omitempty"`
	Status         Status             `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	// Success is nil until the handoff settles.
	Success *bool          `json:"success,omitempty"`
	Results map[string]any `json:"results,omitempty"`
}

func (h *Handoff) clone() Handoff {
	out := *h
	if h.Success != nil {
		s := *h.Success
		out.Success = &s
	}
	if h.Results != nil {
		out.Results = make(map[string]any, len(h.Results))
		for k, v := range h.Results {
			out.Results[k] = v
		}
	}
	return out
}

// Record is one entry in the rolling completion history, kept for
// observability and success-rate learning.
type Record struct {
	HandoffID   string        `json:"handoff_id"`
	FromAgent   string        `json:"from_agent"`
	ToAgent     string        `json:"to_agent"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Stats summarizes coordinator state for system status queries.
type Stats struct {
	Total      int `json:"total"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Coordinator executes already-agreed task transfers.
type Coordinator struct {
	mu       sync.RWMutex
	handoffs map[string]*Handoff
	history  []Record
	limit    int

	registry *registry.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the coordinator clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithHistoryLimit overrides the rolling history bound.
func WithHistoryLimit(limit int) Option {
	return func(c *Coordinator) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

// New creates a handoff coordinator over the given registry.
func New(reg *registry.Registry, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		handoffs: make(map[string]*Handoff),
		limit:    DefaultHistoryLimit,
		registry: reg,
		logger:   logger.With(zap.String("component", "handoff_coordinator")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	OriginalTaskID string
	FromAgent      string
	ToAgent        string
	Context        types.TaskContext
	Progress       types.ProgressData
	Reason         string
}

// Create starts a handoff. It succeeds whenever both agents are known:
// the transfer was agreed out of band, so workload moves
// unconditionally, decrementing the source (clamped at zero) and
// incrementing the target.
func (c *Coordinator) Create(ctx context.Context, p CreateParams) (Handoff, error) {
	if err := ctx.Err(); err != nil {
		return Handoff{}, err
	}
	if !c.registry.Has(p.FromAgent) {
		return Handoff{}, types.NewError(types.ErrNotFound, "agent %s not registered", p.FromAgent)
	}
	if !c.registry.Has(p.ToAgent) {
		return Handoff{}, types.NewError(types.ErrNotFound, "agent %s not registered", p.ToAgent)
	}
	if p.Context.Version == 0 {
		p.Context = types.NewTaskContext()
	}
	if err := p.Context.Validate(); err != nil {
		return Handoff{}, err
	}
	if p.Progress.Version == 0 {
		p.Progress = types.NewProgressData()
	}
	if err := p.Progress.Validate(); err != nil {
		return Handoff{}, err
	}

	_ = c.registry.ReleaseSlot(p.FromAgent)
	if err := c.registry.ReserveSlot(p.ToAgent); err != nil {
		return Handoff{}, err
	}

	h := &Handoff{
		ID:             uuid.New().String(),
		OriginalTaskID: p.OriginalTaskID,
		FromAgent:      p.FromAgent,
		ToAgent:        p.ToAgent,
		Context:        p.Context,
		Progress:       p.Progress,
		Reason:         p.Reason,
		Status:         StatusInProgress,
		CreatedAt:      c.now(),
	}

	c.mu.Lock()
	c.handoffs[h.ID] = h
	c.mu.Unlock()

	c.logger.Info("created task handoff",
		zap.String("handoff", h.ID),
		zap.String("task", h.OriginalTaskID),
		zap.String("from", h.FromAgent),
		zap.String("to", h.ToAgent),
		zap.String("reason", h.Reason),
	)
	return h.clone(), nil
}

// CompleteParams are the inputs to Complete.
type CompleteParams struct {
	HandoffID       string
	CompletingAgent string
	Success         bool
	Results         map[string]any
}

// Complete settles an in-progress handoff. Only the receiving agent
// may complete it, exactly once. The target's workload slot is
// released, the outcome is folded into the agent's rolling success
// rate, and a record is appended to the bounded history ring.
func (c *Coordinator) Complete(ctx context.Context, p CompleteParams) (Handoff, error) {
	if err := ctx.Err(); err != nil {
		return Handoff{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handoffs[p.HandoffID]
	if !ok {
		return Handoff{}, types.NewError(types.ErrNotFound, "handoff %s not found", p.HandoffID)
	}
	if p.CompletingAgent != h.ToAgent {
		return Handoff{}, types.NewError(types.ErrUnauthorized,
			"agent %s is not the target of handoff %s", p.CompletingAgent, p.HandoffID)
	}
	if h.Status != StatusInProgress {
		return Handoff{}, types.NewError(types.ErrInvalidState, "handoff %s already %s", p.HandoffID, h.Status)
	}

	now := c.now()
	h.CompletedAt = &now
	success := p.Success
	h.Success = &success
	h.Results = p.Results
	if p.Success {
		h.Status = StatusCompleted
	} else {
		h.Status = StatusFailed
	}

	duration := now.Sub(h.CreatedAt)
	if err := c.registry.ReleaseSlot(h.ToAgent); err != nil {
		c.logger.Warn("failed to release handoff slot",
			zap.String("handoff", h.ID), zap.Error(err))
	}
	_ = c.registry.RecordOutcome(h.ToAgent, p.Success, duration, "")

	c.history = append(c.history, Record{
		HandoffID:   h.ID,
		FromAgent:   h.FromAgent,
		ToAgent:     h.ToAgent,
		Success:     p.Success,
		Duration:    duration,
		CompletedAt: now,
	})
	if len(c.history) > c.limit {
		c.history = c.history[len(c.history)-c.limit:]
	}

	c.logger.Info("handoff settled",
		zap.String("handoff", h.ID),
		zap.String("status", string(h.Status)),
		zap.Duration("duration", duration),
	)
	return h.clone(), nil
}

// Get returns a copy of the handoff with the given id.
func (c *Coordinator) Get(handoffID string) (Handoff, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handoffs[handoffID]
	if !ok {
		return Handoff{}, types.NewError(types.ErrNotFound, "handoff %s not found", handoffID)
	}
	return h.clone(), nil
}

// History returns a copy of the rolling completion history, oldest
// first.
func (c *Coordinator) History() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Record(nil), c.history...)
}

// Stats returns counts by status.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{Total: len(c.handoffs)}
	for _, h := range c.handoffs {
		switch h.Status {
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Cleanup removes settled handoffs older than the cutoff and drops
// history records past the same cutoff. In-progress handoffs are never
// removed. Returns the dropped handoffs for archiving.
func (c *Coordinator) Cleanup(cutoff time.Time) []Handoff {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []Handoff
	for id, h := range c.handoffs {
		if h.Status != StatusInProgress && h.CreatedAt.Before(cutoff) {
			removed = append(removed, h.clone())
			delete(c.handoffs, id)
		}
	}

	kept := c.history[:0]
	for _, rec := range c.history {
		if !rec.CompletedAt.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	c.history = kept
	return removed
}
