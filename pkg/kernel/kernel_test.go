package kernel

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/registry"
	"github.com/kpernyer/living-twin-simulation-sub000/simconfig"
	"github.com/kpernyer/living-twin-simulation-sub000/simerr"
)

func testConfig(seed int64, n1, n2 int) *simconfig.Config {
	cfg := simconfig.Default()
	cfg.Simulation.TimeAccelerationFactor = math.Inf(1)
	cfg.Simulation.RandomSeed = seed
	cfg.Simulation.SeedSet = true
	cfg.Simulation.EscalationThresholds.NudgesIgnoredToRecommendation = n1
	cfg.Simulation.EscalationThresholds.RecommendationsIgnoredToDirectOrder = n2
	cfg.Simulation.ResponseDelayRangeMin = time.Minute
	cfg.Simulation.ResponseDelayRangeMax = 5 * time.Minute
	cfg.HTTP.RequestDeadline = time.Second
	return cfg
}

func testAgents(ids ...string) []*registry.Agent {
	agents := make([]*registry.Agent, 0, len(ids))
	for _, id := range ids {
		agents = append(agents, registry.New(id, registry.Profile{Department: "eng", SeniorityRank: 2, WorkloadCapacity: 1},
			registry.Personality{AuthorityResponse: 0.9, ChangeAdaptability: 0.8}, 0.1, 0.1, 0.5, 0))
	}
	return agents
}

// driveUntil advances the clock's next-waiter deadline repeatedly until
// cond reports true or the real-time budget is exceeded.
func driveUntil(t *testing.T, k *Kernel, cond func() bool, budget time.Duration) {
	t.Helper()
	deadline := time.Now().Add(budget)
	for {
		if cond() {
			return
		}
		if k.clk.PendingWaiters() > 0 {
			k.clk.AdvanceToNextWaiter()
		}
		if time.Now().After(deadline) {
			t.Fatal("condition never became true within budget")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartRejectsSecondStartWhileRunning(t *testing.T) {
	k := New(testConfig(1, 5, 3), nil, nil)
	require.NoError(t, k.Start(context.Background(), "org-1", testAgents("a1", "a2")))
	defer k.Stop()

	err := k.Start(context.Background(), "org-1", testAgents("a1"))
	require.Error(t, err)
	assert.Equal(t, simerr.KindConflict, simerr.KindOf(err))
}

func TestSendCommunicationBeforeStartIsNotRunning(t *testing.T) {
	k := New(testConfig(1, 5, 3), nil, nil)
	_, err := k.SendCommunication(context.Background(), "a1", []string{"a2"}, model.KindNudge, "", "hi", "", model.PriorityMedium)
	require.Error(t, err)
	assert.Equal(t, simerr.KindConflict, simerr.KindOf(err))
}

func TestSendCommunicationValidatesPriorityAndParticipants(t *testing.T) {
	k := New(testConfig(1, 5, 3), nil, nil)
	require.NoError(t, k.Start(context.Background(), "org-1", testAgents("boss", "ic1")))
	defer k.Stop()

	_, err := k.SendCommunication(context.Background(), "boss", []string{"ic1"}, model.KindNudge, "", "hi", "", model.Priority(9))
	require.Error(t, err)
	assert.Equal(t, simerr.KindInvalidArgument, simerr.KindOf(err))

	_, err = k.SendCommunication(context.Background(), "ghost", []string{"ic1"}, model.KindNudge, "", "hi", "", model.PriorityMedium)
	require.Error(t, err)

	_, err = k.SendCommunication(context.Background(), "boss", []string{"ghost"}, model.KindNudge, "", "hi", "", model.PriorityMedium)
	require.Error(t, err)

	_, err = k.SendCommunication(context.Background(), "boss", []string{"ic1"}, model.CommunicationKind("smoke_signal"), "", "hi", "", model.PriorityMedium)
	require.Error(t, err)
}

// TestSendCommunicationDeduplicatesRecipients covers spec.md's "set
// semantics but insertion order preserved" contract for RecipientIDs: a
// caller-supplied duplicate recipient must produce exactly one delivery
// and one Response, not two.
func TestSendCommunicationDeduplicatesRecipients(t *testing.T) {
	k := New(testConfig(1, 5, 3), nil, nil)
	require.NoError(t, k.Start(context.Background(), "org-1", testAgents("boss", "ic1", "ic2")))
	defer k.Stop()

	comm, err := k.SendCommunication(context.Background(), "boss", []string{"ic1", "ic2", "ic1"}, model.KindNudge, "", "please review", "", model.PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, []string{"ic1", "ic2"}, comm.RecipientIDs)

	driveUntil(t, k, func() bool {
		return len(k.tracking.ResponsesForCommunication(comm.ID)) == 2
	}, 2*time.Second)

	resps := k.tracking.ResponsesForCommunication(comm.ID)
	require.Len(t, resps, 2)
}

// TestSingleNudgeProducesRecordedResponse exercises the full
// send -> deliver -> decide -> respond pipeline end to end (scenario:
// single nudge to a compliant recipient).
func TestSingleNudgeProducesRecordedResponse(t *testing.T) {
	k := New(testConfig(1, 5, 3), nil, nil)
	require.NoError(t, k.Start(context.Background(), "org-1", testAgents("boss", "ic1")))
	defer k.Stop()

	comm, err := k.SendCommunication(context.Background(), "boss", []string{"ic1"}, model.KindNudge, "", "please review", "", model.PriorityMedium)
	require.NoError(t, err)

	driveUntil(t, k, func() bool {
		return len(k.tracking.ResponsesForCommunication(comm.ID)) == 1
	}, 2*time.Second)

	resps := k.tracking.ResponsesForCommunication(comm.ID)
	require.Len(t, resps, 1)
	assert.Equal(t, "ic1", resps[0].AgentID)
}

func TestGetWisdomBecomesAvailableAfterResponse(t *testing.T) {
	k := New(testConfig(2, 5, 3), nil, nil)
	require.NoError(t, k.Start(context.Background(), "org-1", testAgents("boss", "ic1")))
	defer k.Stop()

	comm, err := k.SendCommunication(context.Background(), "boss", []string{"ic1"}, model.KindDirectOrder, "", "ship it", "goal-x", model.PriorityHigh)
	require.NoError(t, err)

	driveUntil(t, k, func() bool {
		return len(k.tracking.ResponsesForCommunication(comm.ID)) == 1
	}, 2*time.Second)

	w, err := k.GetWisdom(comm.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, w.ResponseCount)

	wTopic, err := k.GetWisdom("goal-x")
	require.NoError(t, err)
	assert.Equal(t, 1, wTopic.ResponseCount)
}

func TestGetWisdomForUnknownKeyErrors(t *testing.T) {
	k := New(testConfig(1, 5, 3), nil, nil)
	require.NoError(t, k.Start(context.Background(), "org-1", testAgents("boss", "ic1")))
	defer k.Stop()

	_, err := k.GetWisdom("never-sent")
	require.Error(t, err)
}

func TestEscalationThreadTracksSentNudge(t *testing.T) {
	k := New(testConfig(3, 2, 2), nil, nil)
	require.NoError(t, k.Start(context.Background(), "org-1", testAgents("boss", "ic1")))
	defer k.Stop()

	comm, err := k.SendCommunication(context.Background(), "boss", []string{"ic1"}, model.KindNudge, "", "please review", "", model.PriorityMedium)
	require.NoError(t, err)

	driveUntil(t, k, func() bool {
		return len(k.tracking.ResponsesForCommunication(comm.ID)) == 1
	}, 2*time.Second)

	thread, ok := k.escalation.Get(comm.ThreadID, "ic1")
	require.True(t, ok)
	assert.Contains(t, []model.EscalationLevel{model.EscalationNudge, model.EscalationRecommendation, model.EscalationTerminal}, thread.CurrentLevel)
}

func TestStopDrainsAndIsIdempotent(t *testing.T) {
	k := New(testConfig(1, 5, 3), nil, nil)
	require.NoError(t, k.Start(context.Background(), "org-1", testAgents("boss", "ic1")))

	_, err := k.SendCommunication(context.Background(), "boss", []string{"ic1"}, model.KindNudge, "", "hi", "", model.PriorityMedium)
	require.NoError(t, err)

	require.NoError(t, k.Stop())
	require.NoError(t, k.Stop())

	status := k.GetStatus()
	assert.False(t, status.Running)
}

func TestMetricsReflectAgentCountAndQueueCapacity(t *testing.T) {
	k := New(testConfig(1, 5, 3), nil, nil)
	require.NoError(t, k.Start(context.Background(), "org-1", testAgents("boss", "ic1", "ic2")))
	defer k.Stop()

	m, err := k.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 3, m.AgentCount)
	assert.Equal(t, k.cfg.Simulation.DeliveryQueueCapacity, m.QueueCapacity)
}

func TestSaveSnapshotFailsWithoutPersistenceEnabled(t *testing.T) {
	k := New(testConfig(1, 5, 3), nil, nil)
	require.NoError(t, k.Start(context.Background(), "org-1", testAgents("boss")))
	defer k.Stop()

	err := k.SaveSnapshot(context.Background())
	require.Error(t, err)
	assert.Equal(t, simerr.KindInvalidArgument, simerr.KindOf(err))
}
