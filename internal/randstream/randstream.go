// Package randstream splits one seed into independent, deterministic RNG
// sub-streams per (component, agent-or-thread), per the RNG discipline
// noted in the design notes: parallel workers must not share a single
// math/rand source, but two runs with the same seed must still produce
// identical sequences.
package randstream

import (
	"hash/fnv"
	"math/rand"
)

// Root owns the base seed and mints deterministic sub-streams from it.
// It holds no mutable state itself beyond the seed, so minting is safe
// to call concurrently from many goroutines.
type Root struct {
	seed int64
}

// NewRoot builds a Root from seed. Callers needing nondeterminism should
// draw a seed once from crypto/rand or time and pass it in explicitly —
// randstream itself never reads the clock, to keep minting pure.
func NewRoot(seed int64) *Root {
	return &Root{seed: seed}
}

// Seed returns the base seed this Root was constructed from, used by the
// optional persistence snapshot to record the seed a resumed run should
// reuse.
func (r *Root) Seed() int64 {
	return r.seed
}

// For returns a *rand.Rand seeded deterministically from (component, key).
// Two calls with identical arguments, even across goroutines or processes,
// yield byte-identical sequences.
func (r *Root) For(component, key string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(component))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key))
	sub := int64(h.Sum64()) ^ r.seed
	return rand.New(rand.NewSource(sub))
}

// Agent mints the sub-stream for an agent's own behavior decisions.
func (r *Root) Agent(agentID string) *rand.Rand {
	return r.For("agent", agentID)
}

// Thread mints the sub-stream for an escalation thread's decisions
// (e.g. which recipient is sampled first when tie-breaking).
func (r *Root) Thread(threadID string) *rand.Rand {
	return r.For("thread", threadID)
}

// Delivery mints the sub-stream used to draw a single recipient's
// delivery delay for one communication, keyed by (communication, recipient)
// so each recipient's draw is independent of every other recipient's; the
// same pair always yields the same draw.
func (r *Root) Delivery(communicationID, recipientID string) *rand.Rand {
	return r.For("delivery", communicationID+"|"+recipientID)
}
