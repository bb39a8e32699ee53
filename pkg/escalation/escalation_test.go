package escalation

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/clock"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/tracking"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*model.Communication
}

func (f *fakeSender) Send(ctx context.Context, comm *model.Communication, requestDeadline time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, comm)
	return nil
}

func (f *fakeSender) all() []*model.Communication {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Communication, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) RecordEvent(kind, message string, fields map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, kind)
}

func (f *fakeEvents) has(kind string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == kind {
			return true
		}
	}
	return false
}

func newManager(n1, n2 int) (*Manager, *fakeSender, *fakeEvents) {
	clk := clock.New(math.Inf(1))
	trackingStore := tracking.New()
	sender := &fakeSender{}
	events := &fakeEvents{}
	mgr := New(Thresholds{NudgesIgnoredToRecommendation: n1, RecommendationsIgnoredToDirectOrder: n2},
		clk, trackingStore, sender, events, nil, nil, time.Second)
	return mgr, sender, events
}

func nudgeComm(id, threadID string) *model.Communication {
	return &model.Communication{ID: id, ThreadID: threadID, Kind: model.KindNudge, SenderID: "boss"}
}

func TestEnsureThreadIsIdempotent(t *testing.T) {
	mgr, _, _ := newManager(2, 2)
	mgr.EnsureThread("t1", "r1", "c1")
	mgr.EnsureThread("t1", "r1", "c2") // second call must not overwrite

	thread, ok := mgr.Get("t1", "r1")
	require.True(t, ok)
	assert.Equal(t, []string{"c1"}, thread.CommunicationIDs)
}

func TestIgnoredNudgesPromoteToRecommendationAtThreshold(t *testing.T) {
	mgr, sender, events := newManager(2, 2)
	comm := nudgeComm("c1", "t1")
	mgr.EnsureThread("t1", "r1", "c1")

	mgr.OnResponse(context.Background(), &model.Response{AgentID: "r1", Kind: model.ResponseIgnore}, comm)
	assert.Empty(t, sender.all())

	mgr.OnResponse(context.Background(), &model.Response{AgentID: "r1", Kind: model.ResponseIgnore}, comm)
	require.Len(t, sender.all(), 1)
	assert.Equal(t, model.KindRecommendation, sender.all()[0].Kind)
	assert.True(t, events.has("escalation_promoted"))

	thread, _ := mgr.Get("t1", "r1")
	assert.Equal(t, model.EscalationRecommendation, thread.CurrentLevel)
}

func TestNonIgnoreResponseClosesThread(t *testing.T) {
	mgr, _, _ := newManager(5, 5)
	comm := nudgeComm("c1", "t1")
	mgr.EnsureThread("t1", "r1", "c1")

	mgr.OnResponse(context.Background(), &model.Response{AgentID: "r1", Kind: model.ResponseTakeAction}, comm)

	thread, _ := mgr.Get("t1", "r1")
	assert.Equal(t, model.EscalationTerminal, thread.CurrentLevel)
}

func TestTerminalThreadIgnoresFurtherResponses(t *testing.T) {
	mgr, sender, _ := newManager(1, 1)
	comm := nudgeComm("c1", "t1")
	mgr.EnsureThread("t1", "r1", "c1")

	mgr.OnResponse(context.Background(), &model.Response{AgentID: "r1", Kind: model.ResponseTakeAction}, comm)
	require.Empty(t, sender.all())

	mgr.OnResponse(context.Background(), &model.Response{AgentID: "r1", Kind: model.ResponseIgnore}, comm)
	assert.Empty(t, sender.all(), "terminal thread must not promote further")
}

func TestDirectOrderIgnoredLogsComplianceFailureWithoutFurtherEscalation(t *testing.T) {
	mgr, sender, events := newManager(1, 1)
	comm := &model.Communication{ID: "c1", ThreadID: "t1", Kind: model.KindDirectOrder, SenderID: "boss"}
	mgr.EnsureThread("t1", "r1", "c1")
	// force thread to direct_order level directly for this test
	thread, _ := mgr.Get("t1", "r1")
	thread.CurrentLevel = model.EscalationDirectOrder

	mgr.OnResponse(context.Background(), &model.Response{AgentID: "r1", Kind: model.ResponseIgnore}, comm)

	assert.Empty(t, sender.all())
	assert.True(t, events.has("compliance_failure"))
	// level must remain direct_order, not advance to some invented stage
	thread, _ = mgr.Get("t1", "r1")
	assert.Equal(t, model.EscalationDirectOrder, thread.CurrentLevel)
}

func TestNotifyTTLExpiredActsAsImplicitIgnore(t *testing.T) {
	mgr, sender, _ := newManager(1, 1)
	comm := nudgeComm("c1", "t1")
	mgr.EnsureThread("t1", "r1", "c1")

	mgr.NotifyTTLExpired(context.Background(), comm, "r1")

	require.Len(t, sender.all(), 1)
	assert.Equal(t, model.KindRecommendation, sender.all()[0].Kind)
}

func TestNotifyTTLExpiredAtDirectOrderClosesThread(t *testing.T) {
	mgr, sender, events := newManager(1, 1)
	comm := &model.Communication{ID: "c1", ThreadID: "t1", Kind: model.KindDirectOrder, SenderID: "boss"}
	mgr.EnsureThread("t1", "r1", "c1")
	thread, _ := mgr.Get("t1", "r1")
	thread.CurrentLevel = model.EscalationDirectOrder

	mgr.NotifyTTLExpired(context.Background(), comm, "r1")

	assert.Empty(t, sender.all())
	assert.True(t, events.has("compliance_failure"))
	thread, _ = mgr.Get("t1", "r1")
	assert.Equal(t, model.EscalationTerminal, thread.CurrentLevel)
}
