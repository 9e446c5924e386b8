package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntelligenceAddIsIdempotent(t *testing.T) {
	t.Parallel()

	var in Intelligence
	f := Fragment{Category: CategoryUPIIDs, Value: "scammer@upi", Source: SourcePattern, Confidence: 0.9}
	now := time.Now()

	assert.True(t, in.Add(f, 1, now))
	assert.False(t, in.Add(f, 2, now))
	assert.Equal(t, 1, in.Count(CategoryUPIIDs))
	assert.Equal(t, 1, in.Items[CategoryUPIIDs][0].Turn)
}

func TestIntelligencePatternWinsOverModel(t *testing.T) {
	t.Parallel()

	var in Intelligence
	now := time.Now()
	in.Add(Fragment{Category: CategoryPhoneNumbers, Value: "+919876543210", Source: SourceModel, Confidence: 0.6}, 1, now)
	in.Add(Fragment{Category: CategoryPhoneNumbers, Value: "+919876543210", Source: SourcePattern, Confidence: 0.9}, 2, now)

	item := in.Items[CategoryPhoneNumbers][0]
	assert.Equal(t, SourcePattern, item.Source)
	assert.InDelta(t, 0.9, item.Confidence, 1e-9)
	assert.True(t, item.Corroborated)
	assert.Equal(t, 1, item.Turn)

	in.Add(Fragment{Category: CategoryPhoneNumbers, Value: "+919876543210", Source: SourceModel, Confidence: 0.3}, 3, now)
	assert.Equal(t, SourcePattern, in.Items[CategoryPhoneNumbers][0].Source)
}

func TestIntelligenceCounts(t *testing.T) {
	t.Parallel()

	var in Intelligence
	now := time.Now()
	in.Add(Fragment{Category: CategoryBankAccounts, Value: "123456789012", Source: SourcePattern}, 1, now)
	in.Add(Fragment{Category: CategorySuspiciousKeywords, Value: "urgent", Source: SourcePattern}, 1, now)
	in.Add(Fragment{Category: CategorySuspiciousKeywords, Value: "verify", Source: SourcePattern}, 1, now)
	in.Add(Fragment{Category: "", Value: "x"}, 1, now)

	assert.Equal(t, 3, in.Total())
	assert.Equal(t, 1, in.Actionable())
	assert.Equal(t, []string{"123456789012"}, in.SensitiveValues())

	snap := in.Snapshot()
	assert.Equal(t, []string{"urgent", "verify"}, snap.SuspiciousKeywords)
	assert.NotNil(t, snap.PhishingLinks)
	assert.Empty(t, snap.PhishingLinks)
}

func TestIntelligenceCloneIsIndependent(t *testing.T) {
	t.Parallel()

	var in Intelligence
	in.Add(Fragment{Category: CategoryUPIIDs, Value: "a@ybl", Source: SourcePattern}, 1, time.Now())
	c := in.Clone()
	c.Add(Fragment{Category: CategoryUPIIDs, Value: "b@ybl", Source: SourcePattern}, 2, time.Now())

	assert.Equal(t, 1, in.Count(CategoryUPIIDs))
	assert.Equal(t, 2, c.Count(CategoryUPIIDs))
}
