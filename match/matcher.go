package match

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/registry"
	"github.com/taskmesh/taskmesh/types"
)

// maxAlternatives is how many runner-up candidates a recommendation
// carries.
const maxAlternatives = 2

// Config holds tunables for the matcher.
type Config struct {
	Weights       Weights       `json:"weights" yaml:"weights"`
	RecencyWindow time.Duration `json:"recency_window" yaml:"recency_window"`
}

// DefaultConfig returns the production matcher configuration.
func DefaultConfig() Config {
	return Config{
		Weights:       DefaultWeights(),
		RecencyWindow: DefaultRecencyWindow,
	}
}

// Request describes one matching query.
type Request struct {
	TaskDescription      string   `json:"task_description"`
	RequiredCapabilities []string `json:"required_capabilities"`
	ExcludeAgents        []string `json:"exclude_agents,omitempty"`
	Priority             int      `json:"priority,omitempty"`
}

// Candidate is one ranked agent.
type Candidate struct {
	AgentID    string  `json:"agent_id"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// Recommendation is the matcher's answer: the top pick, a qualitative
// reasoning string, and up to two alternatives.
type Recommendation struct {
	AgentID      string      `json:"agent_id"`
	Score        float64     `json:"score"`
	Confidence   float64     `json:"confidence"`
	Reasoning    string      `json:"reasoning"`
	Breakdown    Breakdown   `json:"breakdown"`
	Alternatives []Candidate `json:"alternatives,omitempty"`
}

// Matcher ranks roster agents for a task. It reads profile snapshots
// from the registry and holds no mutable state of its own.
type Matcher struct {
	registry *registry.Registry
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithClock overrides the matcher clock.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// New creates a matcher over the given registry.
func New(reg *registry.Registry, cfg Config, logger *zap.Logger, opts ...Option) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Weights.Normalized() {
		cfg.Weights = DefaultWeights()
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = DefaultRecencyWindow
	}
	m := &Matcher{
		registry: reg,
		config:   cfg,
		logger:   logger.With(zap.String("component", "capability_matcher")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindBestAgent ranks every non-excluded agent and returns the top
// pick with alternatives. The only failure mode is an empty candidate
// set after exclusions.
func (m *Matcher) FindBestAgent(ctx context.Context, req Request) (*Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(req.ExcludeAgents))
	for _, id := range req.ExcludeAgents {
		excluded[id] = true
	}

	now := m.now()
	var ranked []Breakdown
	for _, p := range m.registry.List() {
		if excluded[p.ID] {
			continue
		}
		ranked = append(ranked, Score(p, req.RequiredCapabilities, now, m.config.Weights, m.config.RecencyWindow))
	}
	if len(ranked) == 0 {
		return nil, types.NewError(types.ErrNoCandidates, "no eligible agents after exclusions")
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Total != ranked[j].Total {
			return ranked[i].Total > ranked[j].Total
		}
		return ranked[i].AgentID < ranked[j].AgentID
	})

	top := ranked[0]
	rec := &Recommendation{
		AgentID:    top.AgentID,
		Score:      top.Total,
		Confidence: confidence(top),
		Reasoning:  reasoning(top),
		Breakdown:  top,
	}
	for _, b := range ranked[1:] {
		if len(rec.Alternatives) == maxAlternatives {
			break
		}
		rec.Alternatives = append(rec.Alternatives, Candidate{
			AgentID:    b.AgentID,
			Score:      b.Total,
			Confidence: confidence(b),
		})
	}

	m.logger.Debug("match completed",
		zap.String("recommended", rec.AgentID),
		zap.Float64("score", rec.Score),
		zap.Int("candidates", len(ranked)),
		zap.Strings("required", req.RequiredCapabilities),
	)
	return rec, nil
}

// confidence blends capability fit with the overall score, so a floor
// fallback reports low confidence even when workload looks good.
func confidence(b Breakdown) float64 {
	return clamp01(0.8*b.Capability + 0.2*b.Total)
}

// reasoning renders the qualitative buckets a human reads in tooling.
func reasoning(b Breakdown) string {
	var capability string
	switch {
	case b.Capability >= 0.8:
		capability = "excellent capability match"
	case b.Capability >= 0.6:
		capability = "good capability match"
	case b.Capability >= 0.4:
		capability = "moderate capability match"
	default:
		capability = "limited capability match"
	}

	var workload string
	switch {
	case b.Workload >= 0.66:
		workload = "low workload"
	case b.Workload >= 0.33:
		workload = "moderate workload"
	default:
		workload = "high workload"
	}

	var track string
	switch {
	case b.SuccessRate >= 0.8:
		track = "strong track record"
	case b.SuccessRate >= 0.5:
		track = "steady track record"
	default:
		track = "unproven track record"
	}

	return fmt.Sprintf("%s, %s, %s", capability, workload, track)
}
