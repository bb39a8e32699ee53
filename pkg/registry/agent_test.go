package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestAgent(memoryWindow int) *Agent {
	return New("a1", Profile{Department: "eng", Role: "ic", SeniorityRank: 2, WorkloadCapacity: 1},
		Personality{RiskTolerance: 0.5}, 0.4, 0.3, 0.8, memoryWindow)
}

func TestNewClampsInitialState(t *testing.T) {
	a := New("a1", Profile{}, Personality{}, 1.5, -0.2, 2.0, 0)
	snap := a.Snapshot()
	assert.Equal(t, 1.0, snap.CurrentWorkload)
	assert.Equal(t, 0.0, snap.StressLevel)
	assert.Equal(t, 1.0, snap.Satisfaction)
}

func TestNewDefaultsMemoryWindow(t *testing.T) {
	a := newTestAgent(0)
	for i := 0; i < 25; i++ {
		a.ApplySideEffects(0, 0, Interaction{CommunicationID: "c", SenderID: "s", Timestamp: time.Now()}, 0)
	}
	assert.Len(t, a.Snapshot().RecentMemory, 20)
}

func TestApplySideEffectsClampsAndBoundsMemory(t *testing.T) {
	a := newTestAgent(2)
	a.ApplySideEffects(0.9, 0.9, Interaction{CommunicationID: "c1", SenderID: "boss"}, 0.5)
	snap := a.Snapshot()
	assert.InDelta(t, 1.0, snap.StressLevel, 1e-9) // 0.3+0.9 clamped to 1
	assert.InDelta(t, 1.0, snap.CurrentWorkload, 1e-9)
	assert.Len(t, snap.RecentMemory, 1)
	assert.Equal(t, 0.5, snap.Relationships["boss"])

	a.ApplySideEffects(-2, -2, Interaction{CommunicationID: "c2", SenderID: "boss"}, -3)
	snap = a.Snapshot()
	assert.Equal(t, 0.0, snap.StressLevel)
	assert.Equal(t, 0.0, snap.CurrentWorkload)
	assert.Equal(t, -1.0, snap.Relationships["boss"]) // clampSigned

	a.ApplySideEffects(0, 0, Interaction{CommunicationID: "c3", SenderID: "other"}, 0)
	snap = a.Snapshot()
	assert.Len(t, snap.RecentMemory, 2) // window size 2, oldest dropped
	assert.Equal(t, "c3", snap.RecentMemory[0].CommunicationID)
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	a := newTestAgent(5)
	a.ApplySideEffects(0, 0, Interaction{CommunicationID: "c1", SenderID: "x"}, 0.2)
	snap := a.Snapshot()
	snap.RecentMemory[0].CommunicationID = "mutated"
	snap.Relationships["x"] = 99

	fresh := a.Snapshot()
	assert.Equal(t, "c1", fresh.RecentMemory[0].CommunicationID)
	assert.Equal(t, 0.2, fresh.Relationships["x"])
}

func TestAffinityDefaultsToZero(t *testing.T) {
	a := newTestAgent(5)
	assert.Equal(t, 0.0, a.Affinity("unknown"))
}

func TestAdjustStressWorkloadSatisfaction(t *testing.T) {
	a := newTestAgent(5)
	a.AdjustStress(0.1)
	a.AdjustWorkload(-0.1)
	a.AdjustSatisfaction(0.05)
	snap := a.Snapshot()
	assert.InDelta(t, 0.4, snap.StressLevel, 1e-9)
	assert.InDelta(t, 0.3, snap.CurrentWorkload, 1e-9)
	assert.InDelta(t, 0.85, snap.Satisfaction, 1e-9)
}
