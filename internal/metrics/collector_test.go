package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

// each test gets its own namespace so promauto registration never collides
func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.delegationsTotal)
	assert.NotNil(t, collector.handoffsTotal)
	assert.NotNil(t, collector.matchScore)
	assert.NotNil(t, collector.sessionsActive)
}

func TestCollector_RecordDelegation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDelegation("expertise_required", "created")
	collector.RecordDelegation("expertise_required", "accepted")
	collector.RecordDelegationResponse("accepted", 30*time.Second)

	count := testutil.CollectAndCount(collector.delegationsTotal)
	assert.Equal(t, 2, count)
}

func TestCollector_RecordMatch(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordMatch("ok", 0.73, 2*time.Millisecond)
	collector.RecordMatch("no_candidates", 0, time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(collector.matchesTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.matchScore))
}

func TestCollector_Gauges(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SetActiveSessions(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.sessionsActive))

	collector.SetAgentWorkload("finance", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(collector.agentWorkload.WithLabelValues("finance")))
}

func TestCollector_RecordCleanupSkipsZero(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCleanup("sessions", 0)
	assert.Equal(t, 0, testutil.CollectAndCount(collector.cleanupRemovals))

	collector.RecordCleanup("sessions", 5)
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.cleanupRemovals.WithLabelValues("sessions")))
}
