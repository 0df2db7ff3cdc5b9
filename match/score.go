// Package match scores roster agents against a task's required
// capabilities and ranks them. Scoring is kept as pure functions over
// profile snapshots so the weights can be tuned and property-tested
// independently of the negotiation plumbing.
package match

import (
	"strings"
	"time"

	"github.com/taskmesh/taskmesh/registry"
)

// Partial-credit constants for capability matching. An exact or
// substring capability-name match earns proficiency×confidence; weaker
// evidence earns a flat credit so ranking degrades instead of failing.
const (
	// SpecializationCredit is granted when a required capability only
	// matches one of the agent's free-text specializations.
	SpecializationCredit = 0.7
	// PreferredTypeCredit is granted when a required capability only
	// matches one of the agent's preferred task types.
	PreferredTypeCredit = 0.6
	// FloorCredit guarantees every agent some score so the matcher
	// always produces a ranking.
	FloorCredit = 0.1
	// NeutralCredit is used when the request names no capabilities at
	// all and capability fit carries no signal.
	NeutralCredit = 0.5
)

// DefaultRecencyWindow is how long since last activity before an
// agent's availability score bottoms out.
const DefaultRecencyWindow = time.Hour

// Weights are the linear blend applied to the four scoring components.
// They must sum to 1 for Total to stay in [0,1].
type Weights struct {
	Capability   float64 `json:"capability" yaml:"capability"`
	Workload     float64 `json:"workload" yaml:"workload"`
	Availability float64 `json:"availability" yaml:"availability"`
	SuccessRate  float64 `json:"success_rate" yaml:"success_rate"`
}

// DefaultWeights returns the hand-tuned production blend.
func DefaultWeights() Weights {
	return Weights{
		Capability:   0.5,
		Workload:     0.3,
		Availability: 0.1,
		SuccessRate:  0.1,
	}
}

// Normalized reports whether the weights sum to 1 within tolerance.
func (w Weights) Normalized() bool {
	sum := w.Capability + w.Workload + w.Availability + w.SuccessRate
	return sum > 0.999 && sum < 1.001
}

// Breakdown is the per-component score for one agent.
type Breakdown struct {
	AgentID      string  `json:"agent_id"`
	Capability   float64 `json:"capability"`
	Workload     float64 `json:"workload"`
	Availability float64 `json:"availability"`
	SuccessRate  float64 `json:"success_rate"`
	Total        float64 `json:"total"`
}

// CapabilityScore averages, over each required capability, the best
// matching credit the profile offers. Falls back through
// specialization and preferred-task-type matches down to FloorCredit.
func CapabilityScore(p registry.AgentProfile, required []string) float64 {
	if len(required) == 0 {
		return NeutralCredit
	}
	var sum float64
	for _, req := range required {
		sum += capabilityCredit(p, req)
	}
	return sum / float64(len(required))
}

func capabilityCredit(p registry.AgentProfile, required string) float64 {
	best := 0.0
	for _, c := range p.Capabilities {
		if nameMatches(c.Name, required) {
			if score := c.Proficiency * c.Confidence; score > best {
				best = score
			}
		}
	}
	if best > 0 {
		return best
	}
	for _, s := range p.Specializations {
		if nameMatches(s, required) {
			return SpecializationCredit
		}
	}
	for _, t := range p.PreferredTaskTypes {
		if nameMatches(t, required) {
			return PreferredTypeCredit
		}
	}
	return FloorCredit
}

// nameMatches is a case-insensitive exact-or-substring match in either
// direction, so "expense_tracking" matches the "expense" specialist
// and vice versa.
func nameMatches(name, required string) bool {
	a := strings.ToLower(strings.TrimSpace(name))
	b := strings.ToLower(strings.TrimSpace(required))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// WorkloadScore is the fraction of remaining capacity, clamped to
// [0,1] since reservations may exceed capacity.
func WorkloadScore(p registry.AgentProfile) float64 {
	if p.MaxWorkload <= 0 {
		return 0
	}
	score := 1 - float64(p.CurrentWorkload)/float64(p.MaxWorkload)
	if score < 0 {
		return 0
	}
	return score
}

// AvailabilityScore decays linearly with time since last activity,
// saturating at zero once the recency window has fully elapsed.
func AvailabilityScore(lastActive, now time.Time, window time.Duration) float64 {
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	since := now.Sub(lastActive)
	if since <= 0 {
		return 1
	}
	if since >= window {
		return 0
	}
	return 1 - float64(since)/float64(window)
}

// Score computes the full weighted breakdown for one profile.
func Score(p registry.AgentProfile, required []string, now time.Time, w Weights, window time.Duration) Breakdown {
	b := Breakdown{
		AgentID:      p.ID,
		Capability:   CapabilityScore(p, required),
		Workload:     WorkloadScore(p),
		Availability: AvailabilityScore(p.LastActive, now, window),
		SuccessRate:  clamp01(p.SuccessRate),
	}
	b.Total = w.Capability*b.Capability +
		w.Workload*b.Workload +
		w.Availability*b.Availability +
		w.SuccessRate*b.SuccessRate
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
