package generator

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kpernyer/living-twin-simulation-sub000/simlog"
)

// Guarded wraps a Backend with a sony/gobreaker circuit breaker and a
// per-call context deadline, grounded on jordigilh-kubernaut's use of
// gobreaker around its own external-call paths. On trip or timeout the
// Behavior Engine (the only caller of Guarded) falls back to the
// rule-based path; Guarded itself just turns "too slow or too broken"
// into a plain error so that decision is entirely the caller's.
type Guarded struct {
	inner   Backend
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	log     simlog.ComponentLogger
}

// NewGuarded wraps backend with a circuit breaker named for logging and a
// per-call timeout (generator_timeout_ms from configuration).
func NewGuarded(backend Backend, timeout time.Duration, log simlog.ComponentLogger) *Guarded {
	if log == nil {
		log = simlog.NoOp{}
	}
	log = log.WithComponent("generator")
	settings := gobreaker.Settings{
		Name:        "generator-backend",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", map[string]interface{}{
				"from": from.String(), "to": to.String(),
			})
		},
	}
	return &Guarded{
		inner:   backend,
		cb:      gobreaker.NewCircuitBreaker(settings),
		timeout: timeout,
		log:     log,
	}
}

func (g *Guarded) ClassifyAndDraft(ctx context.Context, req Request) (Draft, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.ClassifyAndDraft(ctx, req)
	})
	if err != nil {
		g.log.Warn("generator call failed, caller will fall back", map[string]interface{}{"error": err.Error()})
		return Draft{}, err
	}
	return result.(Draft), nil
}
