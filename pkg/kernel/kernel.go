// Package kernel implements the Kernel / Simulation Engine (C9): the
// top-level façade that wires the Clock, Scheduler, Agent Registry,
// Behavior Engine, Distribution Engine, Tracking Engine, Escalation
// Manager, and Wisdom Engine together and owns the per-simulation
// SimulationState. The start/stop lifecycle is grounded on gomind's
// core/agent.go BaseAgent.Start lifecycle flags (serverStarted,
// mu sync.RWMutex) and core/async_task.go's task lifecycle states,
// generalized to the Kernel's running/stopped state machine.
package kernel

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kpernyer/living-twin-simulation-sub000/generator"
	"github.com/kpernyer/living-twin-simulation-sub000/internal/randstream"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/behavior"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/clock"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/comms"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/escalation"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/metrics"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/persistence"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/registry"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/scheduler"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/tracking"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/wisdom"
	"github.com/kpernyer/living-twin-simulation-sub000/simconfig"
	"github.com/kpernyer/living-twin-simulation-sub000/simerr"
	"github.com/kpernyer/living-twin-simulation-sub000/simlog"
	"github.com/kpernyer/living-twin-simulation-sub000/telemetry"
)

// SimulationStatus is the Kernel's get_status() return value.
type SimulationStatus struct {
	Running       bool      `json:"running"`
	OrganizationID string   `json:"organization_id,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	AgentCount    int       `json:"agent_count"`
	QueueDepth    int       `json:"queue_depth"`
	QueueCapacity int       `json:"queue_capacity"`
}

// Kernel is the simulation kernel façade (C9). All public operations are
// thread-safe and bounded by the request deadlines of §5.
type Kernel struct {
	mu      sync.RWMutex
	running bool

	orgID     string
	startedAt time.Time
	cfg       *simconfig.Config

	clk       *clock.Clock
	sched     *scheduler.Scheduler
	reg       *registry.Registry
	tracking  *tracking.Store
	behavior  *behavior.Engine
	comms     *comms.Engine
	escalation *escalation.Manager
	wisdom    *wisdom.Engine
	events    *eventLog
	metrics   *metrics.Collector
	rng       *randstream.Root

	persist    *persistence.Store
	mirrorConn *comms.RedisQueue

	log simlog.ComponentLogger
	tel telemetry.Telemetry

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New constructs an unstarted Kernel from configuration and ambient
// dependencies. Passing a nil logger or telemetry provider installs the
// no-op implementations.
func New(cfg *simconfig.Config, log simlog.ComponentLogger, tel telemetry.Telemetry) *Kernel {
	if log == nil {
		log = simlog.NoOp{}
	}
	if tel == nil {
		tel = telemetry.NoOp{}
	}
	return &Kernel{cfg: cfg, log: log.WithComponent("kernel"), tel: tel}
}

// Start implements §4.9 start(org_id, agents[], params): initialises
// state, launches the Clock loop and worker pool. Fails with `conflict`
// if already running.
func (k *Kernel) Start(ctx context.Context, orgID string, agents []*registry.Agent) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return simerr.New("kernel.Start", simerr.KindConflict, orgID, simerr.ErrAlreadyRunning)
	}

	reg, err := registry.Load(agents)
	if err != nil {
		return err
	}

	seed := k.cfg.Simulation.RandomSeed
	if !k.cfg.Simulation.SeedSet {
		seed = int64(uuid.New().ID())
	}
	rng := randstream.NewRoot(seed)

	clk := clock.New(k.cfg.Simulation.TimeAccelerationFactor)
	trackingStore := tracking.New()
	events := newEventLog(1000)
	metricsCollector := metrics.New()

	var backend generator.Backend = generator.Disabled{}
	switch k.cfg.Simulation.GeneratorBackend {
	case "anthropic":
		inner := generator.NewAnthropic("", "")
		backend = generator.NewGuarded(inner, time.Duration(k.cfg.Simulation.GeneratorTimeoutMS)*time.Millisecond, k.log)
	case "mock":
		backend = generator.NewGuarded(generator.Mock{}, time.Duration(k.cfg.Simulation.GeneratorTimeoutMS)*time.Millisecond, k.log)
	}

	behaviorEngine := behavior.New(backend, rng, behavior.Params{
		StressThreshold:    k.cfg.Simulation.StressThreshold,
		CollaborationBonus: k.cfg.Simulation.CollaborationBonus,
	})

	workerCount := k.cfg.Simulation.WorkerPoolSize
	if workerCount <= 0 {
		workerCount = runtime.NumCPU() * 4
		if workerCount > 64 {
			workerCount = 64
		}
	}

	distribution := comms.New(clk, nil, reg, trackingStore, behaviorEngine, rng, k.log, k.tel, comms.Params{
		ResponseDelayMin: k.cfg.Simulation.ResponseDelayRangeMin,
		ResponseDelayMax: k.cfg.Simulation.ResponseDelayRangeMax,
		UseGenerator:     k.cfg.Simulation.GeneratorBackend != "off",
	}, k.cfg.Simulation.DeliveryQueueCapacity)

	var persist *persistence.Store
	var mirrorConn *comms.RedisQueue
	if k.cfg.Persistence.Enabled {
		store, err := persistence.New(ctx, persistence.Config{
			RedisURL:  k.cfg.Persistence.RedisURL,
			DB:        k.cfg.Persistence.DB,
			Namespace: k.cfg.Persistence.Namespace,
			TTL:       k.cfg.Persistence.TTL,
		}, k.log)
		if err != nil {
			return err
		}
		persist = store

		queue, err := comms.NewRedisQueue(ctx, k.cfg.Persistence.RedisURL, k.cfg.Persistence.DB,
			comms.RedisQueueConfig{QueueKey: k.cfg.Persistence.Namespace + ":queue:" + orgID}, k.log)
		if err != nil {
			store.Close()
			return err
		}
		mirrorConn = queue
		distribution.SetMirrorQueue(queue)
	}

	sched := scheduler.New(clk, distribution, k.log, 9, 17)
	distribution.BindScheduler(sched)

	escalationMgr := escalation.New(escalation.Thresholds{
		NudgesIgnoredToRecommendation:       k.cfg.Simulation.EscalationThresholds.NudgesIgnoredToRecommendation,
		RecommendationsIgnoredToDirectOrder: k.cfg.Simulation.EscalationThresholds.RecommendationsIgnoredToDirectOrder,
	}, clk, trackingStore, distribution, fanoutRecorder{[]eventRecorder{events, metricsCollector}}, k.log, k.tel, k.cfg.HTTP.RequestDeadline)

	wisdomEngine := wisdom.New(trackingStore)

	distribution.AddObserver(escalationMgr)
	distribution.AddObserver(wisdomEngine)
	distribution.AddObserver(metricsCollector)
	distribution.SetTTLNotifier(escalationMgr)

	runCtx, cancel := context.WithCancel(context.Background())

	k.orgID = orgID
	k.startedAt = time.Now().UTC()
	k.clk = clk
	k.sched = sched
	k.reg = reg
	k.tracking = trackingStore
	k.behavior = behaviorEngine
	k.comms = distribution
	k.escalation = escalationMgr
	k.wisdom = wisdomEngine
	k.events = events
	k.metrics = metricsCollector
	k.rng = rng
	k.persist = persist
	k.mirrorConn = mirrorConn
	k.runCtx = runCtx
	k.runCancel = cancel
	k.running = true

	sched.OnTick(k.backgroundChatter)
	sched.OnDailyMaintenance(k.dailyMaintenance)
	sched.OnEndOfDay(k.endOfDay)

	distribution.Start(runCtx, workerCount)
	sched.Start(runCtx)
	clk.StartPacing(runCtx, time.Second)

	k.log.Info("kernel started", map[string]interface{}{"organization_id": orgID, "agents": len(agents), "workers": workerCount})
	return nil
}

// Stop implements §4.9 stop(): drains in-flight DeliveryTasks up to a
// bounded deadline, then halts. Idempotent.
func (k *Kernel) Stop() error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	clk := k.clk
	sched := k.sched
	distribution := k.comms
	cancel := k.runCancel
	persist := k.persist
	mirrorConn := k.mirrorConn
	k.running = false
	k.mu.Unlock()

	cancel()
	clk.StopPacing()
	sched.Stop()
	drained, cancelledCount := distribution.Stop(5 * time.Second)
	if mirrorConn != nil {
		if err := mirrorConn.Close(); err != nil {
			k.log.Warn("failed to close redis mirror queue", map[string]interface{}{"error": err.Error()})
		}
	}
	if persist != nil {
		if err := persist.Close(); err != nil {
			k.log.Warn("failed to close persistence store", map[string]interface{}{"error": err.Error()})
		}
	}
	k.log.Info("kernel stopped", map[string]interface{}{"drained": drained, "cancelled": cancelledCount})
	return nil
}

// SaveSnapshot persists the current Agent Registry state via the optional
// persistence.Store, for resume-after-restart. Returns an invalid_argument
// error if persistence is not enabled for this run.
func (k *Kernel) SaveSnapshot(ctx context.Context) error {
	k.mu.RLock()
	if !k.running || k.persist == nil {
		k.mu.RUnlock()
		return simerr.New("kernel.SaveSnapshot", simerr.KindInvalidArgument, "", simerr.ErrPersistenceDisabled)
	}
	reg, persist, orgID, seed := k.reg, k.persist, k.orgID, k.rng.Seed()
	k.mu.RUnlock()

	ids := reg.All()
	snaps := make([]registry.Snapshot, 0, len(ids))
	for _, id := range ids {
		a, err := reg.Get(id)
		if err != nil {
			continue
		}
		snaps = append(snaps, a.Snapshot())
	}
	return persist.Save(ctx, persistence.Snapshot{
		OrgID:      orgID,
		SavedAt:    time.Now().UTC(),
		RandomSeed: seed,
		Agents:     snaps,
	})
}

// SendCommunication implements §4.9 send_communication. Validates IDs and
// enum values, rejects when stopped, and enforces the request deadline of
// §5 (default 1s) for the enqueue step.
func (k *Kernel) SendCommunication(ctx context.Context, senderID string, recipientIDs []string, kind model.CommunicationKind, subject, body, strategicGoal string, priority model.Priority) (*model.Communication, error) {
	k.mu.RLock()
	if !k.running {
		k.mu.RUnlock()
		return nil, simerr.New("kernel.SendCommunication", simerr.KindConflict, "", simerr.ErrNotRunning)
	}
	reg, distribution := k.reg, k.comms
	k.mu.RUnlock()

	if !priority.Valid() {
		return nil, simerr.New("kernel.SendCommunication", simerr.KindInvalidArgument, "", simerr.ErrInvalidPriority)
	}
	if !reg.Exists(senderID) {
		return nil, simerr.New("kernel.SendCommunication", simerr.KindInvalidArgument, senderID, simerr.ErrUnknownSender)
	}
	recipientIDs = dedupeStable(recipientIDs)
	for _, r := range recipientIDs {
		if !reg.Exists(r) {
			return nil, simerr.New("kernel.SendCommunication", simerr.KindInvalidArgument, r, simerr.ErrUnknownRecipient)
		}
	}
	switch kind {
	case model.KindNudge, model.KindRecommendation, model.KindDirectOrder, model.KindConsultation, model.KindCatchball:
	default:
		return nil, simerr.New("kernel.SendCommunication", simerr.KindInvalidArgument, string(kind), simerr.ErrInvalidKind)
	}

	comm := &model.Communication{
		ID:            uuid.NewString(),
		SenderID:      senderID,
		RecipientIDs:  recipientIDs,
		Kind:          kind,
		Priority:      priority,
		Subject:       subject,
		Body:          body,
		StrategicGoal: strategicGoal,
		ThreadID:      uuid.NewString(),
	}

	ctx, cancel := context.WithTimeout(ctx, k.cfg.HTTP.RequestDeadline)
	defer cancel()
	if err := distribution.Send(ctx, comm, k.cfg.HTTP.RequestDeadline); err != nil {
		return nil, err
	}

	for _, r := range recipientIDs {
		k.escalation.EnsureThread(comm.ThreadID, r, comm.ID)
	}
	k.metrics.RecordCommunicationSent(kind)
	return comm, nil
}

// GetStatus implements §4.9 get_status().
func (k *Kernel) GetStatus() SimulationStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()
	status := SimulationStatus{Running: k.running}
	if k.running {
		status.OrganizationID = k.orgID
		status.StartedAt = k.startedAt
		status.AgentCount = k.reg.Len()
		status.QueueDepth = k.comms.QueueDepth()
		status.QueueCapacity = k.comms.QueueCapacity()
	}
	return status
}

// GetWisdom implements §4.9 get_wisdom(topic_or_comm_id).
func (k *Kernel) GetWisdom(topicOrCommID string) (model.WisdomOfTheCrowd, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.running {
		return model.WisdomOfTheCrowd{}, simerr.New("kernel.GetWisdom", simerr.KindConflict, "", simerr.ErrNotRunning)
	}
	w, err := k.wisdom.Get(topicOrCommID)
	if err == nil {
		k.metrics.SetConsensusLevel(topicOrCommID, w.ConsensusLevel)
	}
	return w, err
}

// Events returns a snapshot of the internal SimulationEvent ring buffer.
func (k *Kernel) Events() []SimulationEvent {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.running {
		return nil
	}
	return k.events.Snapshot()
}

// Registry exposes the Agent Registry read-only, for the Metrics View
// and the external interface adapter's employee-listing endpoints.
func (k *Kernel) Registry() *registry.Registry {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.reg
}

// Tracking exposes the Tracking Engine read-only, for the Metrics View.
func (k *Kernel) Tracking() *tracking.Store {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.tracking
}

// Clock exposes the current simulated time, for status/debug endpoints.
func (k *Kernel) Clock() clock.SimTime {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.running {
		return clock.Epoch
	}
	return k.clk.Now()
}

// Metrics computes the current OrganizationalMetrics read model (C10).
func (k *Kernel) Metrics() (metrics.OrganizationalMetrics, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.running {
		return metrics.OrganizationalMetrics{}, simerr.New("kernel.Metrics", simerr.KindConflict, "", simerr.ErrNotRunning)
	}
	depth, capacity := k.comms.QueueDepth(), k.comms.QueueCapacity()
	k.metrics.SetQueueDepth(depth, capacity)
	return metrics.Snapshot(k.reg, k.tracking, depth, capacity), nil
}

// MetricsHandler returns the Prometheus /metrics exposition handler. It is
// safe to call before Start: until the first Start it returns
// http.NotFoundHandler, since no Collector exists yet.
func (k *Kernel) MetricsHandler() http.Handler {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.metrics == nil {
		return http.NotFoundHandler()
	}
	depth, capacity := 0, 0
	if k.running {
		depth, capacity = k.comms.QueueDepth(), k.comms.QueueCapacity()
	}
	k.metrics.SetQueueDepth(depth, capacity)
	return k.metrics.Handler()
}

// dedupeStable removes repeated recipient IDs while preserving first-seen
// order, per spec.md's "set semantics but insertion order preserved for
// traceability" for Communication.RecipientIDs. A caller-supplied duplicate
// (e.g. from an untrusted POST /communications body) must not produce two
// independent deliveries for one logical recipient.
func dedupeStable(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
