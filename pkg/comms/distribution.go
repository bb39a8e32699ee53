// Package comms implements the Distribution Engine (C5): accepts an
// outbound Communication, fans it out to recipients, enqueues a delivery
// task per recipient with a simulated-time delay, and records delivery
// status. The worker pool and bounded queue are grounded on gomind's
// orchestration/task_worker.go (TaskWorkerPool, cooperative cancellation
// via context) generalized from HTTP-task execution to simulated-time
// delivery execution.
package comms

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kpernyer/living-twin-simulation-sub000/internal/randstream"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/behavior"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/clock"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/registry"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/scheduler"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/tracking"
	"github.com/kpernyer/living-twin-simulation-sub000/simerr"
	"github.com/kpernyer/living-twin-simulation-sub000/simlog"
	"github.com/kpernyer/living-twin-simulation-sub000/telemetry"
)

// ResponseObserver is notified once a Response has been persisted, the
// way C6 "notifies C7 ... and C8" per §2's control-flow description.
// Escalation Manager and Wisdom Engine both implement this.
type ResponseObserver interface {
	OnResponse(ctx context.Context, resp *model.Response, comm *model.Communication)
}

// TTLNotifier is told when a communication's TTL has elapsed for one
// recipient without a recorded Response, per §3's "TTL ... after which a
// non-response counts as ignored" lifecycle rule. The Escalation Manager
// implements this.
type TTLNotifier interface {
	NotifyTTLExpired(ctx context.Context, comm *model.Communication, recipientID string)
}

// deliveryTask is one pending (communication, recipient) delivery.
type deliveryTask struct {
	comm        *model.Communication
	recipientID string
	due         clock.SimTime
}

// Params are the distribution-relevant simulation parameters (§6).
type Params struct {
	ResponseDelayMin time.Duration
	ResponseDelayMax time.Duration
	UseGenerator     bool
}

// Engine is the Distribution Engine. It owns the bounded delivery queue
// and worker pool; Send is the only public entry point for injecting a
// Communication (used directly by the Kernel and, for escalation
// promotions, by the Escalation Manager through the same interface).
type Engine struct {
	clk      *clock.Clock
	sched    *scheduler.Scheduler
	reg      *registry.Registry
	tracking *tracking.Store
	behavior *behavior.Engine
	rng      *randstream.Root
	log      simlog.ComponentLogger
	tel      telemetry.Telemetry
	params   Params

	queue      chan deliveryTask
	queueLimit int

	observers   []ResponseObserver
	ttlNotifier TTLNotifier
	mirror      *RedisQueue

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running bool
	mu      sync.Mutex

	queueDepth int64 // approximate, for metrics; see QueueDepth
	depthMu    sync.Mutex
}

// New builds a Distribution Engine. queueCapacity comes from configuration
// (default 10k); the worker count is passed to Start instead.
func New(
	clk *clock.Clock,
	sched *scheduler.Scheduler,
	reg *registry.Registry,
	trackingStore *tracking.Store,
	behaviorEngine *behavior.Engine,
	rng *randstream.Root,
	log simlog.ComponentLogger,
	tel telemetry.Telemetry,
	params Params,
	queueCapacity int,
) *Engine {
	if log == nil {
		log = simlog.NoOp{}
	}
	if tel == nil {
		tel = telemetry.NoOp{}
	}
	if queueCapacity <= 0 {
		queueCapacity = 10000
	}
	return &Engine{
		clk:        clk,
		sched:      sched,
		reg:        reg,
		tracking:   trackingStore,
		behavior:   behaviorEngine,
		rng:        rng,
		log:        log.WithComponent("distribution"),
		tel:        tel,
		params:     params,
		queue:      make(chan deliveryTask, queueCapacity),
		queueLimit: queueCapacity,
	}
}

// AddObserver registers a ResponseObserver. Must be called before Start.
func (e *Engine) AddObserver(o ResponseObserver) {
	e.observers = append(e.observers, o)
}

// SetTTLNotifier registers the TTLNotifier consulted at a communication's
// TTL deadline. Must be called before any Send.
func (e *Engine) SetTTLNotifier(n TTLNotifier) {
	e.ttlNotifier = n
}

// BindScheduler attaches the Scheduler used to arm TTL-expiry one-shots.
// It is bound after construction because the Scheduler's Dispatcher is
// this very Engine, so the two must be wired in two steps at kernel
// start-up (construct Engine, construct Scheduler with it as Dispatcher,
// then BindScheduler back onto the Engine).
func (e *Engine) BindScheduler(sched *scheduler.Scheduler) {
	e.sched = sched
}

// Submit implements scheduler.Dispatcher. Each handler runs on its own new
// goroutine, counted in the engine's WaitGroup so Stop waits for it; it
// does not pass through the delivery queue or the worker pool, and the
// number of such goroutines is not bounded.
func (e *Engine) Submit(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Start launches workerCount worker goroutines draining the delivery queue.
func (e *Engine) Start(ctx context.Context, workerCount int) {
	if workerCount <= 0 {
		workerCount = 64
	}
	e.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	for i := 0; i < workerCount; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
}

// Stop cancels the worker pool and waits for in-flight work to drain, up
// to deadline. Tasks still queued (not yet picked up) are drained and
// marked cancelled rather than processed.
func (e *Engine) Stop(deadline time.Duration) (drained, cancelledCount int) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return 0, 0
	}
	e.cancel()
	e.running = false
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		e.log.Warn("distribution engine stop deadline exceeded", nil)
	}

	cancelledCount = e.drainQueue()
	return cancelledCount, cancelledCount
}

func (e *Engine) drainQueue() int {
	count := 0
	for {
		select {
		case t := <-e.queue:
			e.tracking.MarkCancelled(t.comm.ID, t.recipientID)
			count++
		default:
			return count
		}
	}
}

// Send implements §4.5 operation send(comm): for each recipient, draws a
// delivery_delay from response_delay_range scaled by priority, records a
// pending DeliveryRecord (via Tracking.RecordCommunication), and enqueues
// a DeliveryTask due at now + delay.
func (e *Engine) Send(ctx context.Context, comm *model.Communication, requestDeadline time.Duration) error {
	if comm.ID == "" {
		comm.ID = uuid.NewString()
	}
	if comm.ThreadID == "" {
		comm.ThreadID = comm.ID
	}
	comm.CreatedAt = e.clk.Now()

	ctx, span := e.tel.StartSpan(ctx, "distribution.Send")
	defer span.End()
	span.SetAttribute("communication.id", comm.ID)
	span.SetAttribute("recipients", len(comm.RecipientIDs))

	e.tracking.RecordCommunication(comm)

	if len(comm.RecipientIDs) == 0 {
		return nil
	}

	deadline := time.Now().Add(requestDeadline)
	for _, recipientID := range comm.RecipientIDs {
		if !e.reg.Exists(recipientID) {
			e.tracking.MarkFailed(comm.ID, recipientID)
			continue
		}
		delay := e.drawDelay(comm, recipientID)
		task := deliveryTask{comm: comm, recipientID: recipientID, due: comm.CreatedAt.Add(delay)}

		if err := e.enqueue(ctx, task, deadline); err != nil {
			return err
		}
		e.armTTL(ctx, comm, recipientID)
	}
	return nil
}

// armTTL schedules a one-shot TTL-expiry check for (comm, recipientID) if
// both a TTL and the collaborators needed to honor it are configured. It
// never blocks Send and never fails Send: a missing scheduler/notifier
// just means TTL expiry is not observed, which degrades gracefully rather
// than rejecting the send.
func (e *Engine) armTTL(ctx context.Context, comm *model.Communication, recipientID string) {
	if comm.TTL <= 0 || e.sched == nil || e.ttlNotifier == nil {
		return
	}
	deadline := comm.CreatedAt.Add(comm.TTL)
	e.sched.ScheduleOneShot(ctx, deadline, func(ctx context.Context, _ clock.SimTime) {
		if e.tracking.HasResponded(comm.ID, recipientID) {
			return
		}
		e.ttlNotifier.NotifyTTLExpired(ctx, comm, recipientID)
	})
}

func (e *Engine) enqueue(ctx context.Context, task deliveryTask, deadline time.Time) error {
	select {
	case e.queue <- task:
		e.depthMu.Lock()
		e.queueDepth++
		e.depthMu.Unlock()
		e.mirrorPush(ctx, task)
		return nil
	default:
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case e.queue <- task:
		e.depthMu.Lock()
		e.queueDepth++
		e.depthMu.Unlock()
		e.mirrorPush(ctx, task)
		return nil
	case <-timer.C:
		return simerr.New("distribution.Send", simerr.KindOverloaded, task.comm.ID, simerr.ErrOverloaded)
	case <-ctx.Done():
		return simerr.New("distribution.Send", simerr.KindInternal, task.comm.ID, ctx.Err())
	}
}

// mirrorPush shadow-writes task to the optional Redis mirror queue. It
// never blocks or fails Send: the mirror is a durability convenience, not
// part of the delivery guarantee.
func (e *Engine) mirrorPush(ctx context.Context, task deliveryTask) {
	if e.mirror == nil {
		return
	}
	e.mirror.push(ctx, task)
}

func (e *Engine) drawDelay(comm *model.Communication, recipientID string) time.Duration {
	minD, maxD := e.params.ResponseDelayMin, e.params.ResponseDelayMax
	if maxD <= minD {
		maxD = minD + time.Minute
	}
	scale := 1.0 - 0.15*float64(comm.Priority-1) // higher priority => shorter delay
	if scale < 0.25 {
		scale = 0.25
	}
	rng := e.rng.Delivery(comm.ID, recipientID)
	span := float64(maxD - minD)
	d := minD + time.Duration(rng.Float64()*span*scale)
	return d
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-e.queue:
			if !ok {
				return
			}
			e.depthMu.Lock()
			e.queueDepth--
			e.depthMu.Unlock()
			e.process(ctx, task)
		}
	}
}

func (e *Engine) process(ctx context.Context, task deliveryTask) {
	if err := e.clk.SleepUntil(ctx, task.due); err != nil {
		e.tracking.MarkCancelled(task.comm.ID, task.recipientID)
		return
	}
	if ctx.Err() != nil {
		e.tracking.MarkCancelled(task.comm.ID, task.recipientID)
		return
	}

	agent, err := e.reg.Get(task.recipientID)
	if err != nil {
		e.tracking.MarkFailed(task.comm.ID, task.recipientID)
		return
	}

	e.tracking.MarkDelivered(task.comm.ID, task.recipientID, e.clk.Now())

	ctx, span := e.tel.StartSpan(ctx, "distribution.process")
	defer span.End()

	decision := e.behavior.Decide(ctx, agent.Snapshot(), task.comm, e.params.UseGenerator)
	agent.ApplySideEffects(decision.DeltaStress, decision.DeltaWorkload, interactionFrom(task.comm, decision, e.clk.Now()), decision.AffinityDelta)

	resp := &model.Response{
		ID:                uuid.NewString(),
		CommunicationID:   task.comm.ID,
		AgentID:           task.recipientID,
		Kind:              decision.Kind,
		Content:           decision.Content,
		Confidence:        decision.Confidence,
		HesitationMarkers: decision.HesitationMarkers,
		ActionStatus:      initialActionStatus(decision.Kind),
		CreatedAt:         e.clk.Now(),
		FallbackUsed:      decision.FallbackUsed,
		Latency:           decision.ReplyLatency,
	}
	e.tracking.RecordResponse(resp)

	for _, o := range e.observers {
		o.OnResponse(ctx, resp, task.comm)
	}
}

func interactionFrom(comm *model.Communication, decision behavior.Decision, at clock.SimTime) registry.Interaction {
	return registry.Interaction{
		CommunicationID: comm.ID,
		SenderID:        comm.SenderID,
		ResponseKind:    string(decision.Kind),
		Timestamp:       at.Time(),
	}
}

func initialActionStatus(kind model.ResponseKind) model.ActionStatus {
	switch kind {
	case model.ResponseTakeAction, model.ResponseDelegate:
		return model.ActionCommitted
	default:
		return model.ActionNone
	}
}

// QueueDepth returns an approximate current delivery queue depth, used by
// the Metrics View's gauge.
func (e *Engine) QueueDepth() int {
	e.depthMu.Lock()
	defer e.depthMu.Unlock()
	if e.queueDepth < 0 {
		return 0
	}
	return int(e.queueDepth)
}

// QueueCapacity returns the configured bound.
func (e *Engine) QueueCapacity() int { return e.queueLimit }
