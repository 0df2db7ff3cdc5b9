// Package registry stores the fixed roster of agent profiles and owns
// all workload accounting. It is the only place AgentProfile fields are
// mutated: the delegation negotiator and the handoff coordinator both
// move workload through ReserveSlot/ReleaseSlot, so the clamp-at-zero
// rule lives here and cannot be bypassed.
package registry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/types"
)

// outcomeWeight is the exponential-moving-average factor applied when
// folding a completion outcome into a profile's rolling success rate
// and average response time.
const outcomeWeight = 0.2

// AgentCapability is a named skill with a proficiency score and the
// agent's self-reported confidence in that score, both in [0,1].
type AgentCapability struct {
	Name        string        `json:"name"`
	Proficiency float64       `json:"proficiency"`
	Confidence  float64       `json:"confidence"`
	LastUsed    *time.Time    `json:"last_used,omitempty"`
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency,omitempty"`
}

// AgentProfile describes one agent in the roster. Profiles are created
// once at bootstrap and mutated by every delegation, handoff, and
// completion event; they are never removed during process lifetime.
type AgentProfile struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Capabilities        []AgentCapability `json:"capabilities"`
	CurrentWorkload     int               `json:"current_workload"`
	MaxWorkload         int               `json:"max_workload"`
	LastActive          time.Time         `json:"last_active"`
	SuccessRate         float64           `json:"success_rate"`
	AverageResponseTime time.Duration     `json:"average_response_time"`
	Specializations     []string          `json:"specializations,omitempty"`
	PreferredTaskTypes  []string          `json:"preferred_task_types,omitempty"`
}

// clone returns a deep copy so callers never hold a reference into the
// registry's mutable state.
func (p *AgentProfile) clone() AgentProfile {
	out := *p
	out.Capabilities = append([]AgentCapability(nil), p.Capabilities...)
	out.Specializations = append([]string(nil), p.Specializations...)
	out.PreferredTaskTypes = append([]string(nil), p.PreferredTaskTypes...)
	return out
}

// WorkloadStatus is the read model returned by workload queries.
type WorkloadStatus struct {
	AgentID         string  `json:"agent_id"`
	CurrentWorkload int     `json:"current_workload"`
	MaxWorkload     int     `json:"max_workload"`
	Utilization     float64 `json:"utilization"`
	SuccessRate     float64 `json:"success_rate"`
}

// Registry is the in-memory agent roster. All methods are safe for
// concurrent use; reads return copies.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*AgentProfile
	logger *zap.Logger

	// now is injectable for tests.
	now func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry.
func New(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		agents: make(map[string]*AgentProfile),
		logger: logger.With(zap.String("component", "agent_registry")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a profile to the roster. Registering an existing id
// replaces the profile wholesale.
func (r *Registry) Register(profile AgentProfile) error {
	if profile.ID == "" {
		return types.NewError(types.ErrInvalidArgument, "agent id is required")
	}
	if profile.MaxWorkload <= 0 {
		return types.NewError(types.ErrInvalidArgument, "agent %s: max workload must be positive", profile.ID)
	}
	for _, c := range profile.Capabilities {
		if c.Proficiency < 0 || c.Proficiency > 1 || c.Confidence < 0 || c.Confidence > 1 {
			return types.NewError(types.ErrInvalidArgument,
				"agent %s: capability %s scores must be within [0,1]", profile.ID, c.Name)
		}
	}
	if profile.LastActive.IsZero() {
		profile.LastActive = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stored := profile.clone()
	r.agents[profile.ID] = &stored
	r.logger.Info("registered agent",
		zap.String("agent", profile.ID),
		zap.Int("capabilities", len(profile.Capabilities)),
		zap.Int("max_workload", profile.MaxWorkload),
	)
	return nil
}

// Get returns a copy of the profile for the given agent id.
func (r *Registry) Get(agentID string) (AgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.agents[agentID]
	if !ok {
		return AgentProfile{}, types.NewError(types.ErrNotFound, "agent %s not registered", agentID)
	}
	return p.clone(), nil
}

// Has reports whether the agent id is registered.
func (r *Registry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// List returns copies of all profiles, ordered by agent id for
// deterministic iteration.
func (r *Registry) List() []AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentProfile, 0, len(r.agents))
	for _, p := range r.agents {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the roster size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// ReserveSlot increments the agent's current workload. The counter may
// exceed MaxWorkload: capacity is advisory for scoring, reservation is
// always granted so a delegation can over-commit an explicitly
// preferred agent.
func (r *Registry) ReserveSlot(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[agentID]
	if !ok {
		return types.NewError(types.ErrNotFound, "agent %s not registered", agentID)
	}
	p.CurrentWorkload++
	p.LastActive = r.now()
	return nil
}

// ReleaseSlot decrements the agent's current workload, clamped at
// zero. Releasing an unknown agent is an error; releasing at zero is
// not, because speculative reservations may be undone in any order.
func (r *Registry) ReleaseSlot(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[agentID]
	if !ok {
		return types.NewError(types.ErrNotFound, "agent %s not registered", agentID)
	}
	if p.CurrentWorkload > 0 {
		p.CurrentWorkload--
	}
	p.LastActive = r.now()
	return nil
}

// Touch updates the agent's last-active timestamp.
func (r *Registry) Touch(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[agentID]
	if !ok {
		return types.NewError(types.ErrNotFound, "agent %s not registered", agentID)
	}
	p.LastActive = r.now()
	return nil
}

// RecordOutcome folds a completion outcome into the agent's rolling
// success rate and average response time via an exponential moving
// average, and stamps LastUsed on the named capability if present.
func (r *Registry) RecordOutcome(agentID string, success bool, duration time.Duration, capability string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[agentID]
	if !ok {
		return types.NewError(types.ErrNotFound, "agent %s not registered", agentID)
	}

	observed := 0.0
	if success {
		observed = 1.0
	}
	p.SuccessRate = (1-outcomeWeight)*p.SuccessRate + outcomeWeight*observed
	if duration > 0 {
		if p.AverageResponseTime == 0 {
			p.AverageResponseTime = duration
		} else {
			p.AverageResponseTime = time.Duration(
				(1-outcomeWeight)*float64(p.AverageResponseTime) + outcomeWeight*float64(duration))
		}
	}
	now := r.now()
	p.LastActive = now
	if capability != "" {
		for i := range p.Capabilities {
			if p.Capabilities[i].Name == capability {
				t := now
				p.Capabilities[i].LastUsed = &t
				p.Capabilities[i].SuccessRate = (1-outcomeWeight)*p.Capabilities[i].SuccessRate + outcomeWeight*observed
				break
			}
		}
	}
	return nil
}

// Workload returns the workload read model for one agent.
func (r *Registry) Workload(agentID string) (WorkloadStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.agents[agentID]
	if !ok {
		return WorkloadStatus{}, types.NewError(types.ErrNotFound, "agent %s not registered", agentID)
	}
	return workloadOf(p), nil
}

// Workloads returns workload read models for every agent, ordered by id.
func (r *Registry) Workloads() []WorkloadStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkloadStatus, 0, len(r.agents))
	for _, p := range r.agents {
		out = append(out, workloadOf(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func workloadOf(p *AgentProfile) WorkloadStatus {
	return WorkloadStatus{
		AgentID:         p.ID,
		CurrentWorkload: p.CurrentWorkload,
		MaxWorkload:     p.MaxWorkload,
		Utilization:     float64(p.CurrentWorkload) / float64(p.MaxWorkload),
		SuccessRate:     p.SuccessRate,
	}
}
