package taskmesh

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/collab"
	"github.com/taskmesh/taskmesh/delegation"
	"github.com/taskmesh/taskmesh/handoff"
	"github.com/taskmesh/taskmesh/match"
	"github.com/taskmesh/taskmesh/msglog"
	"github.com/taskmesh/taskmesh/registry"
	"github.com/taskmesh/taskmesh/types"
)

// Re-export the operation parameter types so callers rarely need the
// component imports.

// MatchQuery asks for the best agent for a task.
type MatchQuery = match.Request

// DelegationParams creates a delegation request.
type DelegationParams = delegation.CreateParams

// DelegationResponse settles a pending delegation.
type DelegationResponse = delegation.RespondParams

// HandoffParams starts a task handoff.
type HandoffParams = handoff.CreateParams

// HandoffCompletion settles an in-progress handoff.
type HandoffCompletion = handoff.CompleteParams

// SessionParams creates a collaboration session.
type SessionParams = collab.CreateSessionParams

// TaskUpdate advances a task through its lifecycle.
type TaskUpdate = collab.UpdateTaskParams

// FindBestAgent scores the roster and recommends an agent.
func (c *Coordinator) FindBestAgent(ctx context.Context, q MatchQuery) (*match.Recommendation, error) {
	ctx, span := c.tracer.Start(ctx, "taskmesh.FindBestAgent")
	defer span.End()
	start := c.now()

	rec, err := c.matcher.FindBestAgent(ctx, q)
	if c.metrics != nil {
		status := "ok"
		score := 0.0
		if err != nil {
			status = "no_candidates"
			if types.GetErrorCode(err) != types.ErrNoCandidates {
				status = "error"
			}
		} else {
			score = rec.Score
		}
		c.metrics.RecordMatch(status, score, c.now().Sub(start))
	}
	return rec, err
}

// CreateDelegation negotiates a target agent and opens a pending
// delegation request. The target's workload slot is reserved up front
// and released again if the request is rejected or expires.
func (c *Coordinator) CreateDelegation(ctx context.Context, p DelegationParams) (delegation.Request, error) {
	ctx, span := c.tracer.Start(ctx, "taskmesh.CreateDelegation")
	defer span.End()

	req, err := c.negotiator.Create(ctx, p)
	if err != nil {
		return delegation.Request{}, err
	}
	if c.metrics != nil {
		c.metrics.RecordDelegation(string(req.Reason), "created")
	}

	// Notify the target through the message log. A failed append is
	// logged but does not unwind the delegation.
	if _, msgErr := c.messages.Append(ctx, msglog.Message{
		FromAgent: req.FromAgent,
		ToAgent:   req.ToAgent,
		Type:      msglog.TypeDelegation,
		TaskID:    req.ID,
		Priority:  req.Priority,
		Content: map[string]any{
			"task_description":    req.TaskDescription,
			"reason":              string(req.Reason),
			"acceptance_deadline": req.AcceptanceDeadline,
		},
	}); msgErr != nil {
		c.logger.Warn("failed to append delegation notice",
			zap.String("request_id", req.ID),
			zap.Error(msgErr),
		)
	} else if c.metrics != nil {
		c.metrics.RecordMessage(string(msglog.TypeDelegation))
	}
	return req, nil
}

// RespondToDelegation settles a pending delegation request.
func (c *Coordinator) RespondToDelegation(ctx context.Context, p DelegationResponse) (delegation.Request, error) {
	ctx, span := c.tracer.Start(ctx, "taskmesh.RespondToDelegation")
	defer span.End()

	req, err := c.negotiator.Respond(ctx, p)
	if err != nil {
		return delegation.Request{}, err
	}
	if c.metrics != nil {
		outcome := string(req.Status)
		c.metrics.RecordDelegation(string(req.Reason), outcome)
		if req.RespondedAt != nil {
			c.metrics.RecordDelegationResponse(outcome, req.RespondedAt.Sub(req.CreatedAt))
		}
	}
	return req, nil
}

// Delegation returns one delegation request by id.
func (c *Coordinator) Delegation(requestID string) (delegation.Request, error) {
	return c.negotiator.Get(requestID)
}

// PendingDelegationsFor lists the open requests awaiting an agent's
// answer, oldest first.
func (c *Coordinator) PendingDelegationsFor(agentID string) []delegation.Request {
	return c.negotiator.PendingFor(agentID)
}

// ExpireStaleDelegations retires pending delegations past their
// acceptance deadline and releases their reserved slots.
func (c *Coordinator) ExpireStaleDelegations() []string {
	expired := c.negotiator.ExpireStale()
	if c.metrics != nil {
		for _, id := range expired {
			if req, err := c.negotiator.Get(id); err == nil {
				c.metrics.RecordDelegation(string(req.Reason), "expired")
			}
		}
	}
	if len(expired) > 0 {
		c.logger.Info("delegations expired", zap.Strings("request_ids", expired))
	}
	return expired
}

// CreateTaskHandoff transfers an in-flight task between two known
// agents, moving the workload slot immediately.
func (c *Coordinator) CreateTaskHandoff(ctx context.Context, p HandoffParams) (handoff.Handoff, error) {
	ctx, span := c.tracer.Start(ctx, "taskmesh.CreateTaskHandoff")
	defer span.End()

	h, err := c.handoffs.Create(ctx, p)
	if err != nil {
		return handoff.Handoff{}, err
	}
	if c.metrics != nil {
		c.metrics.RecordHandoff("created")
	}

	if _, msgErr := c.messages.Append(ctx, msglog.Message{
		FromAgent: h.FromAgent,
		ToAgent:   h.ToAgent,
		Type:      msglog.TypeNotification,
		TaskID:    h.OriginalTaskID,
		Content: map[string]any{
			"handoff_id": h.ID,
			"reason":     h.Reason,
		},
	}); msgErr != nil {
		c.logger.Warn("failed to append handoff notice",
			zap.String("handoff_id", h.ID),
			zap.Error(msgErr),
		)
	} else if c.metrics != nil {
		c.metrics.RecordMessage(string(msglog.TypeNotification))
	}
	return h, nil
}

// CompleteHandoff settles an in-progress handoff and feeds the outcome
// into the receiving agent's rolling success rate.
func (c *Coordinator) CompleteHandoff(ctx context.Context, p HandoffCompletion) (handoff.Handoff, error) {
	ctx, span := c.tracer.Start(ctx, "taskmesh.CompleteHandoff")
	defer span.End()

	h, err := c.handoffs.Complete(ctx, p)
	if err != nil {
		return handoff.Handoff{}, err
	}
	if c.metrics != nil {
		outcome := "completed"
		if h.Success != nil && !*h.Success {
			outcome = "failed"
		}
		c.metrics.RecordHandoff(outcome)
		if h.CompletedAt != nil {
			c.metrics.RecordHandoffDuration(outcome, h.CompletedAt.Sub(h.CreatedAt))
		}
	}
	return h, nil
}

// Handoff returns one handoff by id.
func (c *Coordinator) Handoff(handoffID string) (handoff.Handoff, error) {
	return c.handoffs.Get(handoffID)
}

// HandoffHistory returns the rolling window of settled handoffs.
func (c *Coordinator) HandoffHistory() []handoff.Record {
	return c.handoffs.History()
}

// CreateCollaborationSession derives the participant set from the
// requested capabilities and opens a session around one seed task.
func (c *Coordinator) CreateCollaborationSession(ctx context.Context, p SessionParams) (collab.SessionResult, error) {
	ctx, span := c.tracer.Start(ctx, "taskmesh.CreateCollaborationSession")
	defer span.End()

	res, err := c.sessions.CreateSession(ctx, p)
	if err != nil {
		return collab.SessionResult{}, err
	}
	if c.metrics != nil {
		c.metrics.SetActiveSessions(c.activeSessions())
	}
	return res, nil
}

// AddSessionTask appends a task to an existing session.
func (c *Coordinator) AddSessionTask(ctx context.Context, sessionID string, p SessionParams) (collab.Task, error) {
	ctx, span := c.tracer.Start(ctx, "taskmesh.AddSessionTask")
	defer span.End()
	return c.sessions.AddTask(ctx, sessionID, p)
}

// UpdateTaskStatus advances a task and rederives its session status.
func (c *Coordinator) UpdateTaskStatus(ctx context.Context, p TaskUpdate) (collab.Task, error) {
	ctx, span := c.tracer.Start(ctx, "taskmesh.UpdateTaskStatus")
	defer span.End()

	task, err := c.sessions.UpdateTaskStatus(ctx, p)
	if err != nil {
		return collab.Task{}, err
	}
	if c.metrics != nil {
		c.metrics.SetActiveSessions(c.activeSessions())
	}
	return task, nil
}

// CollaborationStatus returns a session with copies of its tasks.
func (c *Coordinator) CollaborationStatus(sessionID string) (collab.Status, error) {
	return c.sessions.SessionStatusOf(sessionID)
}

// SendMessage appends one envelope to the message log.
func (c *Coordinator) SendMessage(ctx context.Context, msg msglog.Message) (msglog.Message, error) {
	ctx, span := c.tracer.Start(ctx, "taskmesh.SendMessage")
	defer span.End()

	stored, err := c.messages.Append(ctx, msg)
	if err != nil {
		return msglog.Message{}, err
	}
	if c.metrics != nil {
		c.metrics.RecordMessage(string(stored.Type))
	}
	return stored, nil
}

// AgentMessages returns an agent's backlog, highest priority first. A
// zero since applies the default 24 hour window.
func (c *Coordinator) AgentMessages(ctx context.Context, agentID string, since time.Time) ([]msglog.Message, error) {
	ctx, span := c.tracer.Start(ctx, "taskmesh.AgentMessages")
	defer span.End()
	return c.messages.ForAgent(ctx, agentID, since)
}

// AgentWorkloadStatus reports every agent's workload and utilization.
func (c *Coordinator) AgentWorkloadStatus() []registry.WorkloadStatus {
	statuses := c.agents.Workloads()
	if c.metrics != nil {
		for _, s := range statuses {
			c.metrics.SetAgentWorkload(s.AgentID, s.CurrentWorkload)
		}
	}
	return statuses
}

// SystemStatus aggregates component statistics.
type SystemStatus struct {
	Agents      int                       `json:"agents"`
	Workloads   []registry.WorkloadStatus `json:"workloads"`
	Delegations delegation.Stats          `json:"delegations"`
	Handoffs    handoff.Stats             `json:"handoffs"`
	Sessions    collab.Stats              `json:"sessions"`
	Messages    msglog.Stats              `json:"messages"`
}

// SystemStatus reports a point-in-time snapshot of the scheduler.
func (c *Coordinator) SystemStatus(ctx context.Context) (SystemStatus, error) {
	msgStats, err := c.messages.Stats(ctx)
	if err != nil {
		return SystemStatus{}, err
	}
	return SystemStatus{
		Agents:      c.agents.Len(),
		Workloads:   c.agents.Workloads(),
		Delegations: c.negotiator.Stats(),
		Handoffs:    c.handoffs.Stats(),
		Sessions:    c.sessions.Stats(),
		Messages:    msgStats,
	}, nil
}

// CleanupReport counts what a retention sweep removed.
type CleanupReport struct {
	Sessions    int `json:"sessions"`
	Handoffs    int `json:"handoffs"`
	Delegations int `json:"delegations"`
	Messages    int `json:"messages"`
}

// CleanupOldData removes terminal entities older than maxAge from
// memory. Pending delegations and in-progress handoffs and sessions
// are never touched. When an archive store is configured, removed
// sessions, handoffs, and delegations are persisted before discard.
func (c *Coordinator) CleanupOldData(ctx context.Context, maxAge time.Duration) (CleanupReport, error) {
	ctx, span := c.tracer.Start(ctx, "taskmesh.CleanupOldData")
	defer span.End()

	cutoff := c.now().Add(-maxAge)

	sessions := c.sessions.Cleanup(cutoff)
	handoffs := c.handoffs.Cleanup(cutoff)
	delegations := c.negotiator.Cleanup(cutoff)
	messages, err := c.messages.Cleanup(ctx, cutoff)
	if err != nil {
		return CleanupReport{}, err
	}

	if c.archive != nil {
		if err := c.archive.Sessions(sessions); err != nil {
			return CleanupReport{}, err
		}
		if err := c.archive.Handoffs(handoffs); err != nil {
			return CleanupReport{}, err
		}
		if err := c.archive.Delegations(delegations); err != nil {
			return CleanupReport{}, err
		}
	}

	report := CleanupReport{
		Sessions:    len(sessions),
		Handoffs:    len(handoffs),
		Delegations: len(delegations),
		Messages:    messages,
	}
	if c.metrics != nil {
		c.metrics.RecordCleanup("sessions", report.Sessions)
		c.metrics.RecordCleanup("handoffs", report.Handoffs)
		c.metrics.RecordCleanup("delegations", report.Delegations)
		c.metrics.RecordCleanup("messages", report.Messages)
	}
	c.logger.Info("cleanup finished",
		zap.Time("cutoff", cutoff),
		zap.Int("sessions", report.Sessions),
		zap.Int("handoffs", report.Handoffs),
		zap.Int("delegations", report.Delegations),
		zap.Int("messages", report.Messages),
	)
	return report, nil
}

func (c *Coordinator) activeSessions() int {
	stats := c.sessions.Stats()
	return stats.Sessions - stats.SessionsCompleted - stats.SessionsFailed
}
