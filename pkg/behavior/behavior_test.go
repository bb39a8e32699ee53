package behavior

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpernyer/living-twin-simulation-sub000/generator"
	"github.com/kpernyer/living-twin-simulation-sub000/internal/randstream"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/registry"
)

func defaultParams() Params {
	return Params{StressThreshold: 0.75, CollaborationBonus: 0.2}
}

func baseAgent(id string) registry.Snapshot {
	return registry.Snapshot{
		ID:              id,
		Profile:         registry.Profile{Role: "ic", Department: "eng"},
		Personality:     registry.Personality{AuthorityResponse: 0.5, ChangeAdaptability: 0.5, WorkloadSensitivity: 0.5},
		CurrentWorkload: 0.3,
		StressLevel:     0.3,
		Satisfaction:    0.6,
		Relationships:   map[string]float64{},
	}
}

func baseComm(kind model.CommunicationKind, priority model.Priority) *model.Communication {
	return &model.Communication{ID: "comm1", SenderID: "boss", Kind: kind, Priority: priority, Subject: "Ship it"}
}

func TestDecideRuleBasedIsDeterministicForSameInputs(t *testing.T) {
	rng := randstream.NewRoot(42)
	engine := New(generator.Disabled{}, rng, defaultParams())

	agent := baseAgent("a1")
	comm := baseComm(model.KindNudge, model.PriorityMedium)

	d1 := engine.Decide(context.Background(), agent, comm, false)
	d2 := engine.Decide(context.Background(), agent, comm, false)

	assert.Equal(t, d1.Kind, d2.Kind)
	assert.Equal(t, d1.ReplyLatency, d2.ReplyLatency)
	assert.Equal(t, d1.Confidence, d2.Confidence)
	assert.False(t, d1.FallbackUsed)
}

func TestDecideRuleBasedLatencyWithinBounds(t *testing.T) {
	rng := randstream.NewRoot(7)
	engine := New(generator.Disabled{}, rng, defaultParams())
	agent := baseAgent("a1")

	for i, kind := range []model.CommunicationKind{model.KindNudge, model.KindConsultation, model.KindCatchball, model.KindDirectOrder} {
		comm := baseComm(kind, model.PriorityMedium)
		comm.ID = "comm-latency"
		d := engine.Decide(context.Background(), agent, comm, false)
		assert.GreaterOrEqual(t, d.ReplyLatency, 5*time.Minute, "kind %d", i)
		maxLatency := 2 * time.Hour
		if kind == model.KindConsultation || kind == model.KindCatchball {
			maxLatency = 6 * time.Hour
		}
		assert.LessOrEqual(t, d.ReplyLatency, maxLatency, "kind %d", i)
	}
}

func TestHighStressShiftsDistributionTowardEscalateOrIgnore(t *testing.T) {
	rng := randstream.NewRoot(99)
	engine := New(generator.Disabled{}, rng, defaultParams())

	stressed := baseAgent("stressed")
	stressed.StressLevel = 0.9

	counts := map[model.ResponseKind]int{}
	for i := 0; i < 200; i++ {
		comm := baseComm(model.KindNudge, model.PriorityMedium)
		comm.ID = "comm-" + time.Duration(i).String()
		d := engine.Decide(context.Background(), stressed, comm, false)
		counts[d.Kind]++
	}
	assert.Greater(t, counts[model.ResponseEscalate]+counts[model.ResponseIgnore], counts[model.ResponseTakeAction])
}

func TestHesitationMarkersCapacitySaturation(t *testing.T) {
	rng := randstream.NewRoot(1)
	engine := New(generator.Disabled{}, rng, defaultParams())
	agent := baseAgent("a1")
	agent.CurrentWorkload = 0.95

	comm := baseComm(model.KindNudge, model.PriorityLow)
	d := engine.Decide(context.Background(), agent, comm, false)
	assert.Contains(t, d.HesitationMarkers, model.HesitationCapacitySaturation)
}

func TestHesitationMarkersStrategicMisalignment(t *testing.T) {
	rng := randstream.NewRoot(1)
	engine := New(generator.Disabled{}, rng, defaultParams())
	agent := baseAgent("a1")
	agent.Profile.ExpertiseTags = []string{"finance"}

	comm := baseComm(model.KindNudge, model.PriorityLow)
	comm.StrategicGoal = "market-expansion"
	d := engine.Decide(context.Background(), agent, comm, false)
	assert.Contains(t, d.HesitationMarkers, model.HesitationStrategicMisalignment)

	comm2 := baseComm(model.KindNudge, model.PriorityLow)
	comm2.ID = "comm2"
	comm2.StrategicGoal = "finance"
	d2 := engine.Decide(context.Background(), agent, comm2, false)
	assert.NotContains(t, d2.HesitationMarkers, model.HesitationStrategicMisalignment)
}

func TestGeneratorPathUsedWhenEnabledAndSucceeds(t *testing.T) {
	rng := randstream.NewRoot(5)
	engine := New(generator.Mock{}, rng, defaultParams())
	agent := baseAgent("a1")
	comm := baseComm(model.KindDirectOrder, model.PriorityHigh)
	comm.Body = "please proceed"

	d := engine.Decide(context.Background(), agent, comm, true)
	assert.False(t, d.FallbackUsed)
	require.NotEmpty(t, d.Content)
}

// erroringBackend always fails ClassifyAndDraft, simulating a guarded
// backend tripping its circuit breaker or timing out.
type erroringBackend struct{}

func (erroringBackend) ClassifyAndDraft(ctx context.Context, req generator.Request) (generator.Draft, error) {
	return generator.Draft{}, errors.New("generator backend unavailable")
}

func TestGeneratorPathFallsBackOnErrorAndFlagsFallbackUsed(t *testing.T) {
	rng := randstream.NewRoot(5)
	engine := New(erroringBackend{}, rng, defaultParams())
	agent := baseAgent("a1")
	comm := baseComm(model.KindDirectOrder, model.PriorityHigh)
	comm.Body = "please proceed"

	d := engine.Decide(context.Background(), agent, comm, true)
	assert.True(t, d.FallbackUsed)
	require.NotEmpty(t, d.Kind)
}

func TestMarkFallbackSetsFlag(t *testing.T) {
	d := Decision{Kind: model.ResponseIgnore}
	marked := MarkFallback(d)
	assert.True(t, marked.FallbackUsed)
}
