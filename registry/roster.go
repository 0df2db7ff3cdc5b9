package registry

import "time"

// CoordinatorAgentID is the designated fallback agent assigned to a
// collaboration session when no capability matches any roster member.
const CoordinatorAgentID = "coordinator"

// DefaultRoster returns the built-in specialist roster used by the
// daemon when no roster is configured. Proficiency and confidence
// values are hand-tuned starting points; the rolling success rate
// adjusts them over the process lifetime.
func DefaultRoster() []AgentProfile {
	return []AgentProfile{
		{
			ID:   CoordinatorAgentID,
			Name: "Coordinator",
			Capabilities: []AgentCapability{
				{Name: "task_coordination", Proficiency: 0.9, Confidence: 0.9},
				{Name: "delegation_routing", Proficiency: 0.85, Confidence: 0.9},
			},
			MaxWorkload:        10,
			SuccessRate:        0.9,
			Specializations:    []string{"coordination", "routing"},
			PreferredTaskTypes: []string{"orchestration"},
		},
		{
			ID:   "memory",
			Name: "Memory Agent",
			Capabilities: []AgentCapability{
				{Name: "memory_search", Proficiency: 0.95, Confidence: 0.9},
				{Name: "conversation_recall", Proficiency: 0.9, Confidence: 0.85},
			},
			MaxWorkload:        5,
			SuccessRate:        0.85,
			Specializations:    []string{"memory", "recall", "history"},
			PreferredTaskTypes: []string{"lookup", "search"},
		},
		{
			ID:   "health",
			Name: "Health Agent",
			Capabilities: []AgentCapability{
				{Name: "health_tracking", Proficiency: 0.9, Confidence: 0.85},
				{Name: "activity_analysis", Proficiency: 0.8, Confidence: 0.8},
			},
			MaxWorkload:        5,
			SuccessRate:        0.85,
			Specializations:    []string{"health", "fitness", "wellness"},
			PreferredTaskTypes: []string{"analysis", "tracking"},
		},
		{
			ID:   "finance",
			Name: "Finance Agent",
			Capabilities: []AgentCapability{
				{Name: "financial_analysis", Proficiency: 0.95, Confidence: 0.9},
				{Name: "budget_planning", Proficiency: 0.85, Confidence: 0.85},
			},
			MaxWorkload:        5,
			SuccessRate:        0.9,
			Specializations:    []string{"finance", "expense_tracking", "budgeting"},
			PreferredTaskTypes: []string{"analysis", "reporting"},
		},
	}
}

// Seed registers every profile in the roster, stamping LastActive with
// the registry clock. It stops at the first invalid profile.
func (r *Registry) Seed(roster []AgentProfile) error {
	for _, p := range roster {
		if p.LastActive.IsZero() {
			p.LastActive = r.now().Add(-time.Minute)
		}
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}
