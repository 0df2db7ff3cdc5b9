// Package delegation implements the offer/accept negotiation that
// reassigns a task to another agent before work starts. A delegation
// speculatively reserves a workload slot on the target the moment it
// is created; the reservation is released if the target rejects or the
// offer expires unanswered.
package delegation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/match"
	"github.com/taskmesh/taskmesh/registry"
	"github.com/taskmesh/taskmesh/types"
)

// DefaultAcceptanceWindow is how long a target agent has to answer an
// offer before an expiry sweep reclaims the reservation.
const DefaultAcceptanceWindow = 5 * time.Minute

// preferredAgentConfidence is reported when the caller names the
// target directly and the matcher is bypassed.
const preferredAgentConfidence = 0.8

// Reason enumerates why a delegation was initiated. The set is closed;
// unrecognized values are rejected at the operation boundary.
type Reason string

const (
	ReasonExpertiseRequired    Reason = "expertise_required"
	ReasonWorkloadBalancing    Reason = "workload_balancing"
	ReasonBetterCapability     Reason = "better_capability"
	ReasonPriorityEscalation   Reason = "priority_escalation"
	ReasonResourceAvailability Reason = "resource_availability"
	ReasonContextSwitch        Reason = "context_switch"
	ReasonUserRequest          Reason = "user_request"
)

// ParseReason validates a reason string against the closed set.
func ParseReason(s string) (Reason, error) {
	switch r := Reason(s); r {
	case ReasonExpertiseRequired, ReasonWorkloadBalancing, ReasonBetterCapability,
		ReasonPriorityEscalation, ReasonResourceAvailability, ReasonContextSwitch,
		ReasonUserRequest:
		return r, nil
	default:
		return "", types.NewError(types.ErrInvalidArgument, "invalid delegation reason %q", s)
	}
}

// Status is the delegation request lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	// StatusExpired is reached only through ExpireStale: a pending
	// offer whose acceptance deadline passed unanswered.
	StatusExpired Status = "expired"
)

// Request is one delegation offer. Once created it transitions exactly
// once, and only the target agent may answer it.
type Request struct {
	ID                   string        `json:"id"`
	FromAgent            string        `json:"from_agent"`
	ToAgent              string        `json:"to_agent"`
	TaskDescription      string        `json:"task_description"`
	RequiredCapabilities []string      `json:"required_capabilities"`
	Priority             int           `json:"priority"`
	Reason               Reason        `json:"reason"`
	Status               Status        `json:"status"`
	Confidence           float64       `json:"confidence"`
	Reasoning            string        `json:"reasoning,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	AcceptanceDeadline   time.Time     `json:"acceptance_deadline"`
	RespondedAt          *time.Time    `json:"responded_at,omitempty"`
	ResponseMessage      string        `json:"response_message,omitempty"`
	EstimatedEffort      time.Duration `json:"estimated_effort,omitempty"`
}

func (r *Request) clone() Request {
	out := *r
	out.RequiredCapabilities = append([]string(nil), r.RequiredCapabilities...)
	return out
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	FromAgent            string
	TaskDescription      string
	RequiredCapabilities []string
	Priority             int
	Reason               string
	// PreferredAgent bypasses capability matching when set.
	PreferredAgent string
}

// Stats summarizes negotiator state for system status queries.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Expired  int `json:"expired"`
}

// Negotiator creates and settles delegation requests.
type Negotiator struct {
	mu       sync.RWMutex
	requests map[string]*Request

	registry *registry.Registry
	matcher  *match.Matcher
	window   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithClock overrides the negotiator clock.
func WithClock(now func() time.Time) Option {
	return func(n *Negotiator) { n.now = now }
}

// WithAcceptanceWindow overrides the offer deadline window.
func WithAcceptanceWindow(d time.Duration) Option {
	return func(n *Negotiator) {
		if d > 0 {
			n.window = d
		}
	}
}

// New creates a negotiator over the given registry and matcher.
func New(reg *registry.Registry, m *match.Matcher, logger *zap.Logger, opts ...Option) *Negotiator {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Negotiator{
		requests: make(map[string]*Request),
		registry: reg,
		matcher:  m,
		window:   DefaultAcceptanceWindow,
		logger:   logger.With(zap.String("component", "delegation_negotiator")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Create builds a PENDING delegation request and reserves a workload
// slot on the target. When no preferred agent is named, the matcher
// picks a target excluding the originator. The caller must not assume
// the task has started: the reservation is optimistic.
func (n *Negotiator) Create(ctx context.Context, p CreateParams) (Request, error) {
	reason, err := ParseReason(p.Reason)
	if err != nil {
		return Request{}, err
	}
	if p.Priority == 0 {
		p.Priority = 5
	}
	if p.Priority < 1 || p.Priority > 10 {
		return Request{}, types.NewError(types.ErrInvalidArgument, "priority must be within [1,10], got %d", p.Priority)
	}
	if !n.registry.Has(p.FromAgent) {
		return Request{}, types.NewError(types.ErrNotFound, "agent %s not registered", p.FromAgent)
	}

	var (
		target     string
		confidence float64
		reasoning  string
	)
	if p.PreferredAgent != "" {
		if !n.registry.Has(p.PreferredAgent) {
			return Request{}, types.NewError(types.ErrNotFound, "agent %s not registered", p.PreferredAgent)
		}
		target = p.PreferredAgent
		confidence = preferredAgentConfidence
		reasoning = "caller-preferred agent"
	} else {
		rec, err := n.matcher.FindBestAgent(ctx, match.Request{
			TaskDescription:      p.TaskDescription,
			RequiredCapabilities: p.RequiredCapabilities,
			ExcludeAgents:        []string{p.FromAgent},
			Priority:             p.Priority,
		})
		if err != nil {
			return Request{}, err
		}
		target = rec.AgentID
		confidence = rec.Confidence
		reasoning = rec.Reasoning
	}

	if err := n.registry.ReserveSlot(target); err != nil {
		return Request{}, err
	}

	now := n.now()
	req := &Request{
		ID:                   uuid.New().String(),
		FromAgent:            p.FromAgent,
		ToAgent:              target,
		TaskDescription:      p.TaskDescription,
		RequiredCapabilities: append([]string(nil), p.RequiredCapabilities...),
		Priority:             p.Priority,
		Reason:               reason,
		Status:               StatusPending,
		Confidence:           confidence,
		Reasoning:            reasoning,
		CreatedAt:            now,
		AcceptanceDeadline:   now.Add(n.window),
	}

	n.mu.Lock()
	n.requests[req.ID] = req
	n.mu.Unlock()

	n.logger.Info("created delegation request",
		zap.String("request", req.ID),
		zap.String("from", req.FromAgent),
		zap.String("to", req.ToAgent),
		zap.String("reason", string(req.Reason)),
		zap.Int("priority", req.Priority),
	)
	return req.clone(), nil
}

// RespondParams are the inputs to Respond.
type RespondParams struct {
	RequestID       string
	RespondingAgent string
	Accept          bool
	Message         string
	EstimatedEffort time.Duration
}

// Respond settles a pending request. Only the target agent may answer,
// and each request is answered at most once. Rejection undoes the
// speculative reservation made at creation; acceptance leaves it in
// place.
func (n *Negotiator) Respond(ctx context.Context, p RespondParams) (Request, error) {
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	req, ok := n.requests[p.RequestID]
	if !ok {
		return Request{}, types.NewError(types.ErrNotFound, "delegation request %s not found", p.RequestID)
	}
	if p.RespondingAgent != req.ToAgent {
		return Request{}, types.NewError(types.ErrUnauthorized,
			"agent %s is not the target of request %s", p.RespondingAgent, p.RequestID)
	}
	if req.Status != StatusPending {
		return Request{}, types.NewError(types.ErrInvalidState,
			"request %s already %s", p.RequestID, req.Status)
	}

	now := n.now()
	req.RespondedAt = &now
	req.ResponseMessage = p.Message
	req.EstimatedEffort = p.EstimatedEffort

	if p.Accept {
		req.Status = StatusAccepted
		_ = n.registry.Touch(req.ToAgent)
	} else {
		req.Status = StatusRejected
		if err := n.registry.ReleaseSlot(req.ToAgent); err != nil {
			n.logger.Warn("failed to release rejected reservation",
				zap.String("request", req.ID), zap.Error(err))
		}
	}

	n.logger.Info("delegation request settled",
		zap.String("request", req.ID),
		zap.String("status", string(req.Status)),
		zap.String("responder", p.RespondingAgent),
	)
	return req.clone(), nil
}

// ExpireStale moves every PENDING request past its acceptance deadline
// to EXPIRED and releases its workload reservation. It is the explicit
// caller-invoked sweep for reclaiming abandoned offers; no internal
// timer runs it. Returns the ids of expired requests.
func (n *Negotiator) ExpireStale() []string {
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()

	var expired []string
	for _, req := range n.requests {
		if req.Status != StatusPending || !req.AcceptanceDeadline.Before(now) {
			continue
		}
		req.Status = StatusExpired
		req.RespondedAt = &now
		if err := n.registry.ReleaseSlot(req.ToAgent); err != nil {
			n.logger.Warn("failed to release expired reservation",
				zap.String("request", req.ID), zap.Error(err))
		}
		expired = append(expired, req.ID)
	}
	sort.Strings(expired)

	if len(expired) > 0 {
		n.logger.Info("expired stale delegation requests", zap.Int("count", len(expired)))
	}
	return expired
}

// Get returns a copy of the request with the given id.
func (n *Negotiator) Get(requestID string) (Request, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	req, ok := n.requests[requestID]
	if !ok {
		return Request{}, types.NewError(types.ErrNotFound, "delegation request %s not found", requestID)
	}
	return req.clone(), nil
}

// PendingFor returns copies of all PENDING requests targeting the
// given agent, oldest first.
func (n *Negotiator) PendingFor(agentID string) []Request {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []Request
	for _, req := range n.requests {
		if req.Status == StatusPending && req.ToAgent == agentID {
			out = append(out, req.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Stats returns counts by status.
func (n *Negotiator) Stats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s := Stats{Total: len(n.requests)}
	for _, req := range n.requests {
		switch req.Status {
		case StatusPending:
			s.Pending++
		case StatusAccepted:
			s.Accepted++
		case StatusRejected:
			s.Rejected++
		case StatusExpired:
			s.Expired++
		}
	}
	return s
}

// Cleanup removes settled requests older than the cutoff and returns
// the removed copies so callers can archive them. Pending requests are
// never removed here; they belong to ExpireStale.
func (n *Negotiator) Cleanup(cutoff time.Time) []Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	var removed []Request
	for id, req := range n.requests {
		if req.Status != StatusPending && req.CreatedAt.Before(cutoff) {
			removed = append(removed, req.clone())
			delete(n.requests, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].CreatedAt.Before(removed[j].CreatedAt) })
	return removed
}
