// Package escalation implements the Escalation Manager (C7): the state
// machine that promotes an ignored nudge to a recommendation and then to
// a direct order on a per (thread_id, recipient_id) basis. Per-thread
// serialization is grounded on gomind's per-key mutex pattern in
// core/agent.go (a map[string]*sync.Mutex keyed by pattern name),
// generalized here to key by thread_id so only one escalation decision is
// ever in flight per thread, per the concurrency model's requirement.
package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/clock"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/tracking"
	"github.com/kpernyer/living-twin-simulation-sub000/simlog"
	"github.com/kpernyer/living-twin-simulation-sub000/telemetry"
)

// Sender is the subset of the Distribution Engine the Escalation Manager
// needs to inject a promoted Communication. pkg/comms.Engine satisfies it.
type Sender interface {
	Send(ctx context.Context, comm *model.Communication, requestDeadline time.Duration) error
}

// EventRecorder records SimulationEvents (compliance failures, promotions)
// into the Kernel's ring buffer; see §9.1 supplemented feature.
type EventRecorder interface {
	RecordEvent(kind, message string, fields map[string]interface{})
}

// Thresholds are N1/N2 of §4.7.
type Thresholds struct {
	NudgesIgnoredToRecommendation       int
	RecommendationsIgnoredToDirectOrder int
}

// Manager owns every EscalationThread, keyed by (thread_id, recipient_id).
type Manager struct {
	mu      sync.RWMutex
	threads map[string]*model.EscalationThread // key: threadID+"|"+recipientID

	threadLocks   sync.Map // threadID -> *sync.Mutex, per-thread serialization
	thresholds    Thresholds
	clk           *clock.Clock
	tracking      *tracking.Store
	sender        Sender
	events        EventRecorder
	log           simlog.ComponentLogger
	tel           telemetry.Telemetry
	requestDeadline time.Duration
}

// New builds an Escalation Manager.
func New(thresholds Thresholds, clk *clock.Clock, trackingStore *tracking.Store, sender Sender, events EventRecorder, log simlog.ComponentLogger, tel telemetry.Telemetry, requestDeadline time.Duration) *Manager {
	if log == nil {
		log = simlog.NoOp{}
	}
	if tel == nil {
		tel = telemetry.NoOp{}
	}
	return &Manager{
		threads:         make(map[string]*model.EscalationThread),
		thresholds:      thresholds,
		clk:             clk,
		tracking:        trackingStore,
		sender:          sender,
		events:          events,
		log:             log.WithComponent("escalation"),
		tel:             tel,
		requestDeadline: requestDeadline,
	}
}

func key(threadID, recipientID string) string { return threadID + "|" + recipientID }

func (m *Manager) lockFor(threadID string) *sync.Mutex {
	lock, _ := m.threadLocks.LoadOrStore(threadID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// EnsureThread registers the initial nudge/recommendation/direct_order
// communication as thread root if this (thread, recipient) hasn't been
// seen before, called by Kernel.SendCommunication right after Send. The
// starting level follows the root communication's kind as recorded in the
// Tracking Engine, defaulting to nudge when the root is not recorded.
func (m *Manager) EnsureThread(threadID, recipientID, commID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(threadID, recipientID)
	if _, ok := m.threads[k]; ok {
		return
	}
	level := model.EscalationNudge
	if m.tracking != nil {
		if comm, err := m.tracking.GetCommunication(commID); err == nil {
			level = escalationLevelFor(comm.Kind)
		}
	}
	m.threads[k] = &model.EscalationThread{
		ThreadID:         threadID,
		RecipientID:      recipientID,
		CommunicationIDs: []string{commID},
		CurrentLevel:     level,
	}
}

// OnResponse implements comms.ResponseObserver. Promotions fire on
// Response persistence, not on a timer, so the state machine reacts
// at-most-once per Response event, per §4.7's ordering rule.
func (m *Manager) OnResponse(ctx context.Context, resp *model.Response, comm *model.Communication) {
	lock := m.lockFor(comm.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	k := key(comm.ThreadID, resp.AgentID)
	thread, ok := m.threads[k]
	if !ok {
		thread = &model.EscalationThread{
			ThreadID:         comm.ThreadID,
			RecipientID:      resp.AgentID,
			CommunicationIDs: []string{comm.ID},
			CurrentLevel:     escalationLevelFor(comm.Kind),
		}
		m.threads[k] = thread
	}
	m.mu.Unlock()

	if thread.CurrentLevel == model.EscalationTerminal {
		return
	}

	if resp.Kind == model.ResponseIgnore {
		m.handleIgnored(ctx, thread, comm)
		return
	}

	// Any non-ignore response at direct_order level closes the thread;
	// at nudge/recommendation level it also closes (responded -> terminal
	// per the §4.7 diagram — the recipient engaged, nothing more to chase).
	m.transitionTo(thread, model.EscalationTerminal)
	if comm.Kind == model.KindDirectOrder && resp.Kind != model.ResponseIgnore {
		m.events.RecordEvent("escalation_resolved", "direct order acknowledged", map[string]interface{}{
			"thread_id": thread.ThreadID, "recipient_id": thread.RecipientID,
		})
	}
}

func escalationLevelFor(kind model.CommunicationKind) model.EscalationLevel {
	switch kind {
	case model.KindRecommendation:
		return model.EscalationRecommendation
	case model.KindDirectOrder:
		return model.EscalationDirectOrder
	default:
		return model.EscalationNudge
	}
}

func (m *Manager) handleIgnored(ctx context.Context, thread *model.EscalationThread, comm *model.Communication) {
	switch thread.CurrentLevel {
	case model.EscalationNudge:
		thread.NudgesIgnored++
		if thread.NudgesIgnored >= m.thresholds.NudgesIgnoredToRecommendation {
			m.promote(ctx, thread, comm, model.EscalationRecommendation, model.KindRecommendation)
		}
	case model.EscalationRecommendation:
		thread.RecommendationsIgnored++
		if thread.RecommendationsIgnored >= m.thresholds.RecommendationsIgnoredToDirectOrder {
			m.promote(ctx, thread, comm, model.EscalationDirectOrder, model.KindDirectOrder)
		}
	case model.EscalationDirectOrder:
		// §4.7: ignored direct orders are logged as compliance_failure and do
		// not escalate further; the thread stays at direct_order until TTL
		// expiry closes it (see ExpireOnTTL).
		m.events.RecordEvent("compliance_failure", "direct order ignored", map[string]interface{}{
			"thread_id": thread.ThreadID, "recipient_id": thread.RecipientID,
		})
	}
}

func (m *Manager) promote(ctx context.Context, thread *model.EscalationThread, comm *model.Communication, level model.EscalationLevel, kind model.CommunicationKind) {
	ctx, span := m.tel.StartSpan(ctx, "escalation.promote")
	defer span.End()
	span.SetAttribute("thread_id", thread.ThreadID)
	span.SetAttribute("level", string(level))

	newComm := &model.Communication{
		SenderID:     comm.SenderID,
		RecipientIDs: []string{thread.RecipientID},
		Kind:         kind,
		Priority:     comm.Priority,
		Subject:      comm.Subject,
		Body:         comm.Body,
		StrategicGoal: comm.StrategicGoal,
		ThreadID:     thread.ThreadID,
		TTL:          comm.TTL,
	}
	newComm.ID = uuid.NewString()

	if err := m.sender.Send(ctx, newComm, m.requestDeadline); err != nil {
		m.log.Warn("escalation promotion send failed", map[string]interface{}{"error": err.Error()})
		return
	}

	m.mu.Lock()
	thread.CommunicationIDs = append(thread.CommunicationIDs, newComm.ID)
	thread.CurrentLevel = level
	m.mu.Unlock()

	m.events.RecordEvent("escalation_promoted", "thread promoted", map[string]interface{}{
		"thread_id": thread.ThreadID, "recipient_id": thread.RecipientID, "new_level": string(level),
	})
}

func (m *Manager) transitionTo(thread *model.EscalationThread, level model.EscalationLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rank(level) > rank(thread.CurrentLevel) || level == model.EscalationTerminal {
		thread.CurrentLevel = level
	}
}

func rank(level model.EscalationLevel) int {
	switch level {
	case model.EscalationNudge:
		return 0
	case model.EscalationRecommendation:
		return 1
	case model.EscalationDirectOrder:
		return 2
	case model.EscalationTerminal:
		return 3
	default:
		return -1
	}
}

// ExpireOnTTL closes a thread at TTL expiry if it is sitting at
// direct_order with no response, per the §3 lifecycle rule ("closed ...
// when TTL elapses at the direct_order level").
func (m *Manager) ExpireOnTTL(threadID, recipientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.threads[key(threadID, recipientID)]; ok && t.CurrentLevel == model.EscalationDirectOrder {
		t.CurrentLevel = model.EscalationTerminal
	}
}

// NotifyTTLExpired implements comms.TTLNotifier: a communication's TTL
// elapsed for recipientID with no Response ever recorded, which §3 counts
// as an implicit ignore. It drives exactly the same promotion logic as an
// explicit ResponseIgnore, and closes the thread instead if it was already
// sitting at direct_order (§4.7's "TTL_expired -> terminal" edge).
func (m *Manager) NotifyTTLExpired(ctx context.Context, comm *model.Communication, recipientID string) {
	lock := m.lockFor(comm.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	k := key(comm.ThreadID, recipientID)
	thread, ok := m.threads[k]
	if !ok {
		thread = &model.EscalationThread{
			ThreadID:         comm.ThreadID,
			RecipientID:      recipientID,
			CommunicationIDs: []string{comm.ID},
			CurrentLevel:     escalationLevelFor(comm.Kind),
		}
		m.threads[k] = thread
	}
	m.mu.Unlock()

	if thread.CurrentLevel == model.EscalationTerminal {
		return
	}
	if thread.CurrentLevel == model.EscalationDirectOrder {
		m.ExpireOnTTL(thread.ThreadID, recipientID)
		m.events.RecordEvent("compliance_failure", "direct order TTL expired unanswered", map[string]interface{}{
			"thread_id": thread.ThreadID, "recipient_id": recipientID,
		})
		return
	}
	m.handleIgnored(ctx, thread, comm)
}

// Get returns the EscalationThread for (threadID, recipientID), if any.
func (m *Manager) Get(threadID, recipientID string) (*model.EscalationThread, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[key(threadID, recipientID)]
	return t, ok
}
