// Package scheduler implements the Scheduler (C2): recurring tick /
// daily-maintenance / end-of-day events plus one-shot timers for
// communication TTL expiry and delivery-delay fires, all driven off the
// Clock rather than wall time. Handler dispatch follows gomind's
// core/async_task.go task-state discipline: a handler is just a function
// handed to the Dispatcher, never run inline on the scheduling loop, so
// a slow handler can never block the Clock.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/clock"
	"github.com/kpernyer/living-twin-simulation-sub000/simlog"
)

// Handler is invoked when a scheduled event fires. It receives the
// simulated instant at which it fired.
type Handler func(ctx context.Context, at clock.SimTime)

// Dispatcher runs submitted work off the scheduling loop; production code
// wires this to the Distribution Engine (pkg/comms), whose Submit runs each
// function on its own goroutine rather than on the delivery worker pool.
// Tests can wire a synchronous stub.
type Dispatcher interface {
	Submit(fn func())
}

// OneShot identifies a single scheduled timer so it can be cancelled
// (e.g. a TTL timer cancelled because its communication was answered
// first).
type OneShot struct {
	cancel context.CancelFunc
}

// Cancel stops the one-shot from firing if it hasn't already.
func (o OneShot) Cancel() {
	if o.cancel != nil {
		o.cancel()
	}
}

// Scheduler owns the recurring-event loop and one-shot timer registrations
// against a Clock.
type Scheduler struct {
	clk        *clock.Clock
	dispatcher Dispatcher
	log        simlog.ComponentLogger

	dailyMaintenanceHour int
	endOfDayHour         int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	onTick             Handler
	onDailyMaintenance Handler
	onEndOfDay         Handler
}

// New builds a Scheduler. dailyMaintenanceHour and endOfDayHour are local
// simulated hours in [1,23]; a value <= 0 selects the default (9 and 17
// per §4.2).
func New(clk *clock.Clock, dispatcher Dispatcher, log simlog.ComponentLogger, dailyMaintenanceHour, endOfDayHour int) *Scheduler {
	if log == nil {
		log = simlog.NoOp{}
	}
	if dailyMaintenanceHour <= 0 {
		dailyMaintenanceHour = 9
	}
	if endOfDayHour <= 0 {
		endOfDayHour = 17
	}
	return &Scheduler{
		clk:                  clk,
		dispatcher:           dispatcher,
		log:                  log.WithComponent("scheduler"),
		dailyMaintenanceHour: dailyMaintenanceHour,
		endOfDayHour:         endOfDayHour,
	}
}

// OnTick registers the per-simulated-minute handler.
func (s *Scheduler) OnTick(h Handler) { s.onTick = h }

// OnDailyMaintenance registers the 09:00 handler.
func (s *Scheduler) OnDailyMaintenance(h Handler) { s.onDailyMaintenance = h }

// OnEndOfDay registers the 17:00 handler.
func (s *Scheduler) OnEndOfDay(h Handler) { s.onEndOfDay = h }

// Start launches the three recurring-event loops. Each loop sleeps on the
// Clock for its own cadence and submits its handler to the Dispatcher
// rather than running it inline, so the Clock is never blocked by slow
// handler work.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.runLoop(ctx, time.Minute, s.onTick)
	s.runDailyLoop(ctx, s.dailyMaintenanceHour, s.onDailyMaintenance)
	s.runDailyLoop(ctx, s.endOfDayHour, s.onEndOfDay)
}

// Stop cancels all recurring loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, period time.Duration, h Handler) {
	if h == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		next := s.clk.Now().Add(period)
		for {
			if err := s.clk.SleepUntil(ctx, next); err != nil {
				return
			}
			fired := next
			s.dispatcher.Submit(func() { h(ctx, fired) })
			next = next.Add(period)
		}
	}()
}

// runDailyLoop fires h once per simulated day at the given local hour.
func (s *Scheduler) runDailyLoop(ctx context.Context, hour int, h Handler) {
	if h == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		next := nextOccurrence(s.clk.Now(), hour)
		for {
			if err := s.clk.SleepUntil(ctx, next); err != nil {
				return
			}
			fired := next
			s.dispatcher.Submit(func() { h(ctx, fired) })
			next = next.Add(24 * time.Hour)
		}
	}()
}

func nextOccurrence(now clock.SimTime, hour int) clock.SimTime {
	t := now.Time()
	candidate := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
	if !candidate.After(t) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return clock.Epoch.Add(candidate.Sub(clock.Epoch.Time()))
}

// ScheduleOneShot fires h once when the Clock reaches at, unless cancelled
// first. Used for communication TTL expiry and delivery-delay fires.
func (s *Scheduler) ScheduleOneShot(ctx context.Context, at clock.SimTime, h Handler) OneShot {
	ctx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.clk.SleepUntil(ctx, at); err != nil {
			return
		}
		s.dispatcher.Submit(func() { h(ctx, at) })
	}()
	return OneShot{cancel: cancel}
}
