package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/clock"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
)

func newComm(id, threadID string, recipients ...string) *model.Communication {
	return &model.Communication{ID: id, ThreadID: threadID, RecipientIDs: recipients, CreatedAt: clock.Epoch}
}

func TestRecordCommunicationCreatesPendingDeliveries(t *testing.T) {
	s := New()
	s.RecordCommunication(newComm("c1", "t1", "r1", "r2"))

	d, ok := s.GetDelivery("c1", "r1")
	require.True(t, ok)
	assert.Equal(t, model.DeliveryPending, d.Status)

	comms, responses, deliveries := s.Counts()
	assert.Equal(t, 1, comms)
	assert.Equal(t, 0, responses)
	assert.Equal(t, 2, deliveries)
}

func TestMarkDeliveredFailedCancelled(t *testing.T) {
	s := New()
	s.RecordCommunication(newComm("c1", "t1", "r1", "r2", "r3"))

	s.MarkDelivered("c1", "r1", clock.Epoch)
	s.MarkFailed("c1", "r2")
	s.MarkCancelled("c1", "r3")

	counts := s.DeliveryStatusCounts()
	assert.Equal(t, 1, counts[model.DeliveryDelivered])
	assert.Equal(t, 1, counts[model.DeliveryFailed])
	assert.Equal(t, 1, counts[model.DeliveryCancelled])
}

func TestMarkCancelledOnlyAffectsPending(t *testing.T) {
	s := New()
	s.RecordCommunication(newComm("c1", "t1", "r1"))
	s.MarkDelivered("c1", "r1", clock.Epoch)
	s.MarkCancelled("c1", "r1") // should be a no-op: already delivered

	d, _ := s.GetDelivery("c1", "r1")
	assert.Equal(t, model.DeliveryDelivered, d.Status)
}

func TestRecordResponseAndLookups(t *testing.T) {
	s := New()
	s.RecordCommunication(newComm("c1", "t1", "r1"))
	resp := &model.Response{ID: "resp1", CommunicationID: "c1", AgentID: "r1", Kind: model.ResponseTakeAction, CreatedAt: clock.Epoch}
	s.RecordResponse(resp)

	got := s.ResponsesForCommunication("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "resp1", got[0].ID)

	assert.True(t, s.HasResponded("c1", "r1"))
	assert.False(t, s.HasResponded("c1", "r2"))

	counts := s.ResponseKindCounts()
	assert.Equal(t, 1, counts[model.ResponseTakeAction])
}

func TestResponsesForTopicOrdersByCommunicationSendOrder(t *testing.T) {
	s := New()
	c1 := newComm("c1", "t1", "r1")
	c1.StrategicGoal = "goal-x"
	c1.CreatedAt = clock.Epoch
	c2 := newComm("c2", "t2", "r1")
	c2.StrategicGoal = "goal-x"
	c2.CreatedAt = clock.Epoch.Add(1)
	s.RecordCommunication(c1)
	s.RecordCommunication(c2)

	s.RecordResponse(&model.Response{ID: "resp2", CommunicationID: "c2", AgentID: "r1", CreatedAt: clock.Epoch.Add(1)})
	s.RecordResponse(&model.Response{ID: "resp1", CommunicationID: "c1", AgentID: "r1", CreatedAt: clock.Epoch})

	got := s.ResponsesForTopic("goal-x")
	require.Len(t, got, 2)
	assert.Equal(t, "resp1", got[0].ID)
	assert.Equal(t, "resp2", got[1].ID)
}

func TestResponsesInWindow(t *testing.T) {
	s := New()
	s.RecordCommunication(newComm("c1", "t1", "r1"))
	s.RecordResponse(&model.Response{ID: "a", CommunicationID: "c1", AgentID: "r1", CreatedAt: clock.Epoch})
	s.RecordResponse(&model.Response{ID: "b", CommunicationID: "c1", AgentID: "r1", CreatedAt: clock.Epoch.Add(10)})
	s.RecordResponse(&model.Response{ID: "c", CommunicationID: "c1", AgentID: "r1", CreatedAt: clock.Epoch.Add(100)})

	got := s.ResponsesInWindow(clock.Epoch, clock.Epoch.Add(10))
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestThreadCommunicationsPreservesSendOrder(t *testing.T) {
	s := New()
	s.RecordCommunication(newComm("c1", "t1"))
	s.RecordCommunication(newComm("c2", "t1"))
	assert.Equal(t, []string{"c1", "c2"}, s.ThreadCommunications("t1"))
}

func TestGetCommunicationNotFound(t *testing.T) {
	s := New()
	_, err := s.GetCommunication("missing")
	require.Error(t, err)
}
