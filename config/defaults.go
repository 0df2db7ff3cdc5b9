package config

import "time"

// DefaultConfig returns the configuration the scheduler runs with
// when nothing is provided.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Matcher:    DefaultMatcherConfig(),
		Delegation: DefaultDelegationConfig(),
		Handoff:    DefaultHandoffConfig(),
		Cleanup:    DefaultCleanupConfig(),
		Messages:   DefaultMessagesConfig(),
		Archive:    DefaultArchiveConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP listener settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultMatcherConfig returns the stock scoring weights.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		CapabilityWeight:   0.5,
		WorkloadWeight:     0.3,
		AvailabilityWeight: 0.1,
		SuccessRateWeight:  0.1,
		RecencyWindow:      time.Hour,
	}
}

// DefaultDelegationConfig returns the default negotiation settings.
func DefaultDelegationConfig() DelegationConfig {
	return DelegationConfig{
		AcceptanceWindow: 5 * time.Minute,
		ExpiryInterval:   30 * time.Second,
	}
}

// DefaultHandoffConfig returns the default handoff settings.
func DefaultHandoffConfig() HandoffConfig {
	return HandoffConfig{
		HistoryLimit: 256,
	}
}

// DefaultCleanupConfig returns the default retention settings.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		MaxAge:   24 * time.Hour,
		Interval: time.Hour,
	}
}

// DefaultMessagesConfig returns the in-memory message log settings.
func DefaultMessagesConfig() MessagesConfig {
	return MessagesConfig{
		Backend: "memory",
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
	}
}

// DefaultArchiveConfig returns the archive settings. Disabled by
// default; cleanup simply discards without it.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled: false,
		Path:    "taskmesh_archive.db",
	}
}

// DefaultLogConfig returns the default zap settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig returns the default tracing settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:     false,
		ServiceName: "taskmesh",
		SampleRate:  1.0,
	}
}
