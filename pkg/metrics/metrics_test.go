package metrics

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/clock"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/registry"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/tracking"
)

func TestNewRegistersWithoutPanicAndHandlerServes(t *testing.T) {
	c := New()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "simkernel_delivery_queue_depth")
}

func TestOnResponseIncrementsCountersReflectedInExposition(t *testing.T) {
	c := New()
	c.OnResponse(context.Background(), &model.Response{Kind: model.ResponseTakeAction}, &model.Communication{ID: "c1"})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()
	assert.Contains(t, body, `simkernel_responses_total{kind="take_action"} 1`)
	assert.Contains(t, body, `simkernel_deliveries_total{status="delivered"} 1`)
}

func TestRecordEventOnlyCountsKnownKinds(t *testing.T) {
	c := New()
	c.RecordEvent("escalation_promoted", "", nil)
	c.RecordEvent("some_unrelated_kind", "", nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()
	assert.Contains(t, body, `simkernel_escalation_events_total{event="escalation_promoted"} 1`)
	assert.NotContains(t, body, "some_unrelated_kind")
}

func TestSnapshotComputesAveragesAcrossAgents(t *testing.T) {
	reg, err := registry.Load([]*registry.Agent{
		registry.New("a1", registry.Profile{Department: "eng"}, registry.Personality{}, 0.2, 0.4, 0.6, 0),
		registry.New("a2", registry.Profile{Department: "eng"}, registry.Personality{}, 0.6, 0.8, 1.0, 0),
	})
	require.NoError(t, err)

	trk := tracking.New()
	comm := &model.Communication{ID: "c1", RecipientIDs: []string{"a1"}}
	trk.RecordCommunication(comm)
	trk.MarkDelivered("c1", "a1", clock.Epoch)
	trk.RecordResponse(&model.Response{ID: "r1", CommunicationID: "c1", AgentID: "a1", Kind: model.ResponseTakeAction})

	snap := Snapshot(reg, trk, 3, 10)
	assert.Equal(t, 2, snap.AgentCount)
	assert.Equal(t, 1, snap.CommunicationsSent)
	assert.Equal(t, 1, snap.ResponsesRecorded)
	assert.InDelta(t, 0.6, snap.AverageStress, 1e-9)
	assert.InDelta(t, 0.4, snap.AverageWorkload, 1e-9)
	assert.InDelta(t, 0.8, snap.AverageSatisfaction, 1e-9)
	assert.Equal(t, 3, snap.QueueDepth)
	assert.Equal(t, 10, snap.QueueCapacity)
}

func TestSnapshotOfEmptyRegistryHasZeroAverages(t *testing.T) {
	reg := registry.NewRegistry()
	trk := tracking.New()
	snap := Snapshot(reg, trk, 0, 0)
	assert.Equal(t, 0, snap.AgentCount)
	assert.Equal(t, 0.0, snap.AverageStress)
}
