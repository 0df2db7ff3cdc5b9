// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes scheduler counters, histograms, and gauges.
type Collector struct {
	delegationsTotal   *prometheus.CounterVec
	delegationDuration *prometheus.HistogramVec

	handoffsTotal   *prometheus.CounterVec
	handoffDuration *prometheus.HistogramVec

	matchesTotal  *prometheus.CounterVec
	matchScore    *prometheus.HistogramVec
	matchDuration *prometheus.HistogramVec

	sessionsActive  prometheus.Gauge
	agentWorkload   *prometheus.GaugeVec
	messagesTotal   *prometheus.CounterVec
	cleanupRemovals *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers all scheduler metrics under the namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.delegationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Total number of delegation requests by reason and outcome",
		},
		[]string{"reason", "outcome"},
	)

	c.delegationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delegation_response_duration_seconds",
			Help:      "Time from delegation creation to response",
			Buckets:   []float64{1, 5, 15, 60, 300, 900},
		},
		[]string{"outcome"},
	)

	c.handoffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of task handoffs by outcome",
		},
		[]string{"outcome"},
	)

	c.handoffDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handoff_duration_seconds",
			Help:      "Time from handoff creation to completion",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"outcome"},
	)

	c.matchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Total number of capability match queries",
		},
		[]string{"status"},
	)

	c.matchScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_score",
			Help:      "Composite score of the recommended agent",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{},
	)

	c.matchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Capability match query duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{},
	)

	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of collaboration sessions currently in progress",
		},
	)

	c.agentWorkload = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_workload",
			Help:      "Current workload per agent",
		},
		[]string{"agent_id"},
	)

	c.messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of messages appended to the log",
		},
		[]string{"message_type"},
	)

	c.cleanupRemovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_removals_total",
			Help:      "Entities removed by retention sweeps",
		},
		[]string{"entity"},
	)

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordDelegation counts a delegation lifecycle event. outcome is one
// of created, accepted, rejected, expired.
func (c *Collector) RecordDelegation(reason, outcome string) {
	c.delegationsTotal.WithLabelValues(reason, outcome).Inc()
}

// RecordDelegationResponse observes time-to-response for a settled
// delegation.
func (c *Collector) RecordDelegationResponse(outcome string, elapsed time.Duration) {
	c.delegationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordHandoff counts a handoff lifecycle event.
func (c *Collector) RecordHandoff(outcome string) {
	c.handoffsTotal.WithLabelValues(outcome).Inc()
}

// RecordHandoffDuration observes time from creation to completion.
func (c *Collector) RecordHandoffDuration(outcome string, elapsed time.Duration) {
	c.handoffDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordMatch counts a match query and, when it succeeded, observes
// the winning score.
func (c *Collector) RecordMatch(status string, score float64, elapsed time.Duration) {
	c.matchesTotal.WithLabelValues(status).Inc()
	c.matchDuration.WithLabelValues().Observe(elapsed.Seconds())
	if status == "ok" {
		c.matchScore.WithLabelValues().Observe(score)
	}
}

// SetActiveSessions sets the active session gauge.
func (c *Collector) SetActiveSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

// SetAgentWorkload sets one agent's workload gauge.
func (c *Collector) SetAgentWorkload(agentID string, workload int) {
	c.agentWorkload.WithLabelValues(agentID).Set(float64(workload))
}

// RecordMessage counts one appended message.
func (c *Collector) RecordMessage(messageType string) {
	c.messagesTotal.WithLabelValues(messageType).Inc()
}

// RecordCleanup counts entities removed by a retention sweep.
func (c *Collector) RecordCleanup(entity string, removed int) {
	if removed > 0 {
		c.cleanupRemovals.WithLabelValues(entity).Add(float64(removed))
	}
}

// RecordHTTPRequest counts one HTTP request.
func (c *Collector) RecordHTTPRequest(method, path, status string, elapsed time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
