package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordClassification(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		scam     bool
		result   string
	}{
		{"model scam", "model", true, "scam"},
		{"keyword benign", "keyword", false, "benign"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(classificationsTotal.WithLabelValues(tt.strategy, tt.result))
			RecordClassification(tt.strategy, tt.scam)
			after := testutil.ToFloat64(classificationsTotal.WithLabelValues(tt.strategy, tt.result))
			assert.InDelta(t, 1.0, after-before, 1e-9)
		})
	}
}

func TestRecordIntelligenceIgnoresEmpty(t *testing.T) {
	before := testutil.ToFloat64(fragmentsTotal.WithLabelValues("upiIds", "pattern"))
	RecordIntelligence("upiIds", "pattern", 0)
	RecordIntelligence("upiIds", "pattern", 2)
	after := testutil.ToFloat64(fragmentsTotal.WithLabelValues("upiIds", "pattern"))
	assert.InDelta(t, 2.0, after-before, 1e-9)
}

func TestRecordTurnAndGeneration(t *testing.T) {
	RecordTurn("ok", 120*time.Millisecond)
	RecordGeneration("reply", "cache_hit", 0)
	RecordGeneration("reply", "ok", time.Second)

	assert.Greater(t, testutil.ToFloat64(turnsTotal.WithLabelValues("ok")), 0.0)
	assert.Greater(t, testutil.ToFloat64(generationCallsTotal.WithLabelValues("reply", "cache_hit")), 0.0)
}

func TestMonitorSubscribersGauge(t *testing.T) {
	before := testutil.ToFloat64(monitorSubscribers)
	AddMonitorSubscribers(1)
	AddMonitorSubscribers(-1)
	assert.InDelta(t, before, testutil.ToFloat64(monitorSubscribers), 1e-9)
}
