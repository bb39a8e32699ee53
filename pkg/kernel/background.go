package kernel

import (
	"context"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/clock"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/registry"
)

// backgroundChatter is the Scheduler's per-simulated-minute tick handler.
// It generates the organic low-priority traffic implied by §6's
// communication_frequency knob: every tick, each agent independently has
// a small chance of nudging one of its direct reports (or, lacking any,
// a random colleague in the same department) about routine business. This
// is deliberately unrelated to any operator-issued strategic directive —
// it is what keeps a simulated organization from going silent between
// `send_communication` calls.
func (k *Kernel) backgroundChatter(ctx context.Context, at clock.SimTime) {
	k.mu.RLock()
	if !k.running {
		k.mu.RUnlock()
		return
	}
	reg, distribution, rng, freq := k.reg, k.comms, k.rng, k.cfg.Simulation.CommunicationFrequency
	k.mu.RUnlock()

	if freq <= 0 {
		return
	}
	// communication_frequency is a base rate in [0,1]; scaled down so it
	// reads as "roughly freq communications per simulated agent-day" rather
	// than per minute, since ticks fire every simulated minute.
	perTickChance := freq / (24 * 60)

	for _, senderID := range reg.All() {
		r := rng.For("chatter", senderID+"|"+at.String())
		if r.Float64() >= perTickChance {
			continue
		}
		sender, err := reg.Get(senderID)
		if err != nil {
			continue
		}
		recipientID := pickChatterRecipient(reg, sender, r.Float64())
		if recipientID == "" || recipientID == senderID {
			continue
		}
		comm := &model.Communication{
			SenderID:     senderID,
			RecipientIDs: []string{recipientID},
			Kind:         model.KindNudge,
			Priority:     model.PriorityLow,
			Subject:      "routine check-in",
			Body:         "Quick status check on your current workload.",
		}
		_ = distribution.Send(ctx, comm, 0)
	}
}

// pickChatterRecipient prefers a direct report (the natural target of a
// routine check-in) and otherwise falls back to a colleague in the same
// department. pick is a uniform draw in [0,1) used to select deterministically
// among the candidates.
func pickChatterRecipient(reg *registry.Registry, sender *registry.Agent, pick float64) string {
	snap := sender.Snapshot()
	candidates := snap.Profile.DirectReportIDs
	if len(candidates) == 0 {
		candidates = reg.ByDepartment(snap.Profile.Department)
	}
	if len(candidates) == 0 {
		return ""
	}
	idx := int(pick * float64(len(candidates)))
	if idx >= len(candidates) {
		idx = len(candidates) - 1
	}
	return candidates[idx]
}

// dailyMaintenance is the Scheduler's 09:00 handler: a mild daily recovery
// of stress and satisfaction for every agent, modeling the reset a new
// workday brings regardless of the previous day's traffic.
func (k *Kernel) dailyMaintenance(ctx context.Context, at clock.SimTime) {
	k.mu.RLock()
	if !k.running {
		k.mu.RUnlock()
		return
	}
	reg, events := k.reg, k.events
	k.mu.RUnlock()

	for _, id := range reg.All() {
		a, err := reg.Get(id)
		if err != nil {
			continue
		}
		a.AdjustStress(-0.05)
		a.AdjustSatisfaction(0.02)
	}
	events.RecordEvent("daily_maintenance", "daily stress/satisfaction recovery applied", nil)
}

// endOfDay is the Scheduler's 17:00 handler: workload winds down as the
// day's in-flight work is wrapped up or handed off.
func (k *Kernel) endOfDay(ctx context.Context, at clock.SimTime) {
	k.mu.RLock()
	if !k.running {
		k.mu.RUnlock()
		return
	}
	reg, events := k.reg, k.events
	k.mu.RUnlock()

	for _, id := range reg.All() {
		a, err := reg.Get(id)
		if err != nil {
			continue
		}
		a.AdjustWorkload(-0.1)
	}
	events.RecordEvent("end_of_day", "end-of-day workload wind-down applied", nil)
}
