// Package taskmesh wires the agent roster, capability matcher,
// delegation negotiator, handoff coordinator, session registry, and
// message log into one scheduler.
//
// Usage:
//
//	mesh, err := taskmesh.New(taskmesh.Options{Logger: logger})
//	if err != nil { ... }
//	defer mesh.Close()
//
//	rec, err := mesh.FindBestAgent(ctx, taskmesh.MatchQuery{
//	    TaskDescription:      "categorize Q2 receipts",
//	    RequiredCapabilities: []string{"expense_tracking"},
//	})
//
// All state lives in memory except the optional redis message backend
// and the optional sqlite archive of retired entities.
package taskmesh

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/archive"
	"github.com/taskmesh/taskmesh/collab"
	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/delegation"
	"github.com/taskmesh/taskmesh/handoff"
	"github.com/taskmesh/taskmesh/internal/metrics"
	"github.com/taskmesh/taskmesh/match"
	"github.com/taskmesh/taskmesh/msglog"
	"github.com/taskmesh/taskmesh/registry"
)

// Options configures a Coordinator. The zero value is usable: defaults
// apply, the message log is in-memory, and archiving is off.
type Options struct {
	// Config overrides the default scheduler configuration.
	Config *config.Config

	// Logger is the base zap logger. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Messages overrides the message log backend. When nil, one is
	// built from Config.Messages.
	Messages msglog.Store

	// Archive receives retired entities during cleanup. Optional.
	Archive *archive.Store

	// Metrics enables prometheus instrumentation. Optional.
	Metrics *metrics.Collector

	// Clock overrides time.Now across every component. For tests.
	Clock func() time.Time

	// SeedRoster registers the default agent roster on startup.
	SeedRoster bool
}

// Coordinator is the top-level scheduler facade. All methods are safe
// for concurrent use.
type Coordinator struct {
	agents     *registry.Registry
	matcher    *match.Matcher
	negotiator *delegation.Negotiator
	handoffs   *handoff.Coordinator
	sessions   *collab.Registry
	messages   msglog.Store
	archive    *archive.Store
	metrics    *metrics.Collector
	tracer     trace.Tracer
	logger     *zap.Logger
	now        func() time.Time
}

// New builds a Coordinator from the options.
func New(opts Options) (*Coordinator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	agents := registry.New(logger, registry.WithClock(now))
	matcher := match.New(agents, match.Config{
		Weights: match.Weights{
			Capability:   cfg.Matcher.CapabilityWeight,
			Workload:     cfg.Matcher.WorkloadWeight,
			Availability: cfg.Matcher.AvailabilityWeight,
			SuccessRate:  cfg.Matcher.SuccessRateWeight,
		},
		RecencyWindow: cfg.Matcher.RecencyWindow,
	}, logger, match.WithClock(now))
	negotiator := delegation.New(agents, matcher, logger,
		delegation.WithClock(now),
		delegation.WithAcceptanceWindow(cfg.Delegation.AcceptanceWindow),
	)
	handoffs := handoff.New(agents, logger,
		handoff.WithClock(now),
		handoff.WithHistoryLimit(cfg.Handoff.HistoryLimit),
	)
	sessions := collab.New(agents, logger, collab.WithClock(now))

	messages := opts.Messages
	if messages == nil {
		var err error
		messages, err = buildMessageStore(cfg.Messages, now)
		if err != nil {
			return nil, err
		}
	}

	c := &Coordinator{
		agents:     agents,
		matcher:    matcher,
		negotiator: negotiator,
		handoffs:   handoffs,
		sessions:   sessions,
		messages:   messages,
		archive:    opts.Archive,
		metrics:    opts.Metrics,
		tracer:     noop.NewTracerProvider().Tracer("taskmesh"),
		logger:     logger.With(zap.String("component", "taskmesh")),
		now:        now,
	}
	if cfg.Telemetry.Enabled {
		c.tracer = otel.Tracer("taskmesh")
	}

	if opts.SeedRoster {
		roster := registry.DefaultRoster()
		if len(cfg.Roster) > 0 {
			roster = rosterFromConfig(cfg.Roster)
		}
		if err := agents.Seed(roster); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func buildMessageStore(cfg config.MessagesConfig, now func() time.Time) (msglog.Store, error) {
	switch cfg.Backend {
	case "redis":
		return msglog.NewRedisStore(msglog.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	default:
		return msglog.NewMemoryStore(msglog.WithClock(now)), nil
	}
}

func rosterFromConfig(seeds []config.AgentSeed) []registry.AgentProfile {
	profiles := make([]registry.AgentProfile, 0, len(seeds))
	for _, seed := range seeds {
		caps := make([]registry.AgentCapability, 0, len(seed.Capabilities))
		for _, c := range seed.Capabilities {
			caps = append(caps, registry.AgentCapability{
				Name:        c.Name,
				Proficiency: c.Proficiency,
				Confidence:  c.Confidence,
			})
		}
		profiles = append(profiles, registry.AgentProfile{
			ID:                 seed.ID,
			Name:               seed.Name,
			Capabilities:       caps,
			MaxWorkload:        seed.MaxWorkload,
			SuccessRate:        seed.SuccessRate,
			Specializations:    seed.Specializations,
			PreferredTaskTypes: seed.PreferredTaskTypes,
		})
	}
	return profiles
}

// Agents exposes the roster for registration and inspection.
func (c *Coordinator) Agents() *registry.Registry { return c.agents }

// Messages exposes the underlying message store.
func (c *Coordinator) Messages() msglog.Store { return c.messages }

// Close releases backend resources.
func (c *Coordinator) Close() error {
	var firstErr error
	if err := c.messages.Close(); err != nil {
		firstErr = err
	}
	if c.archive != nil {
		if err := c.archive.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
