// Package behavior implements the Behavior Engine (C4): given an agent
// snapshot, an incoming Communication, and simulated now, produces a
// ResponseDecision. The rule-based algorithm follows the six steps of
// §4.4 verbatim; the optional generator-backed back-end delegates kind,
// content, and confidence to a generator.Backend capability and falls
// back to the rule-based path on failure or timeout.
package behavior

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/kpernyer/living-twin-simulation-sub000/generator"
	"github.com/kpernyer/living-twin-simulation-sub000/internal/randstream"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/registry"
)

// Decision is the Behavior Engine's output (ResponseDecision of §4.4).
type Decision struct {
	Kind              model.ResponseKind
	ReplyLatency      time.Duration
	Content           string
	Confidence        float64
	HesitationMarkers []model.HesitationMarker
	FallbackUsed      bool

	DeltaStress    float64
	DeltaWorkload  float64
	AffinityDelta  float64
}

// Params are the subset of simulation parameters the Behavior Engine
// consults (§6 configuration knobs).
type Params struct {
	StressThreshold    float64
	CollaborationBonus float64
}

// Engine is the Behavior Engine. Backend may be generator.Disabled{} to
// run rule-based only.
type Engine struct {
	backend generator.Backend
	rng     *randstream.Root
	params  Params
}

// New builds an Engine. Pass generator.Disabled{} for backend to disable
// the generator-backed path entirely.
func New(backend generator.Backend, rng *randstream.Root, params Params) *Engine {
	if backend == nil {
		backend = generator.Disabled{}
	}
	return &Engine{backend: backend, rng: rng, params: params}
}

// kindBaseWeights gives each Communication kind a base distribution over
// response kinds before pressure/compliance adjustments, per §4.4 step 3
// ("direct_order skews strongly toward take_action ... nudge has a
// meaningful ignore mass").
var kindBaseWeights = map[model.CommunicationKind]map[model.ResponseKind]float64{
	model.KindDirectOrder: {
		model.ResponseTakeAction: 0.80, model.ResponseEscalate: 0.05,
		model.ResponseSeekClarification: 0.10, model.ResponseProvideFeedback: 0.03,
		model.ResponseDelegate: 0.02,
	},
	model.KindRecommendation: {
		model.ResponseTakeAction: 0.45, model.ResponseSeekClarification: 0.15,
		model.ResponseProvideFeedback: 0.15, model.ResponseDelegate: 0.10,
		model.ResponseEscalate: 0.05, model.ResponseIgnore: 0.10,
	},
	model.KindNudge: {
		model.ResponseIgnore: 0.35, model.ResponseTakeAction: 0.25,
		model.ResponseProvideFeedback: 0.15, model.ResponseSeekClarification: 0.15,
		model.ResponseDelegate: 0.08, model.ResponseEscalate: 0.02,
	},
	model.KindConsultation: {
		model.ResponseProvideFeedback: 0.45, model.ResponseSeekClarification: 0.25,
		model.ResponseTakeAction: 0.15, model.ResponseIgnore: 0.10, model.ResponseDelegate: 0.05,
	},
	model.KindCatchball: {
		model.ResponseProvideFeedback: 0.40, model.ResponseSeekClarification: 0.30,
		model.ResponseTakeAction: 0.15, model.ResponseIgnore: 0.10, model.ResponseDelegate: 0.05,
	},
}

// Decide runs the Behavior Engine for one (agent, communication) pair.
// useGenerator selects the generator-backed path (still falling back to
// rule-based on failure); pass false to force rule-based regardless of
// configuration (used by deterministic tests).
func (e *Engine) Decide(ctx context.Context, agent registry.Snapshot, comm *model.Communication, useGenerator bool) Decision {
	if useGenerator {
		if d, ok := e.tryGenerator(ctx, agent, comm); ok {
			d.DeltaStress, d.DeltaWorkload, d.AffinityDelta = e.computeSideEffects(agent, comm, d.Kind)
			return d
		}
		return MarkFallback(e.decideRuleBased(agent, comm))
	}
	return e.decideRuleBased(agent, comm)
}

func (e *Engine) tryGenerator(ctx context.Context, agent registry.Snapshot, comm *model.Communication) (Decision, bool) {
	req := generator.Request{
		CommunicationSubject: comm.Subject,
		CommunicationBody:    comm.Body,
		CommunicationKind:    comm.Kind,
		Priority:             comm.Priority,
		AgentRole:            agent.Profile.Role,
		AgentDepartment:      agent.Profile.Department,
		AgentStressLevel:     agent.StressLevel,
		AgentWorkload:        agent.CurrentWorkload,
		AffinityToSender:     agent.Relationships[comm.SenderID],
	}
	draft, err := e.backend.ClassifyAndDraft(ctx, req)
	if err != nil {
		return Decision{}, false
	}
	latency := e.drawLatency(agent, comm)
	return Decision{
		Kind:              draft.Kind,
		ReplyLatency:      latency,
		Content:           draft.Content,
		Confidence:        draft.Confidence,
		HesitationMarkers: draft.HesitationMarkers,
		FallbackUsed:      false,
	}, true
}

func (e *Engine) decideRuleBased(agent registry.Snapshot, comm *model.Communication) Decision {
	pressure := e.pressure(agent, comm)
	compliance := e.compliance(agent, comm)
	kind := e.sampleKind(agent, comm, pressure, compliance)
	markers := e.hesitationMarkers(agent, comm)
	latency := e.drawLatency(agent, comm)
	dStress, dWorkload, dAffinity := e.computeSideEffects(agent, comm, kind)

	confidence := clamp01(0.5 + 0.3*compliance - 0.2*pressureOverload(pressure))

	return Decision{
		Kind:              kind,
		ReplyLatency:      latency,
		Content:           templateContent(kind, comm),
		Confidence:        confidence,
		HesitationMarkers: markers,
		FallbackUsed:      false,
		DeltaStress:       dStress,
		DeltaWorkload:     dWorkload,
		AffinityDelta:     dAffinity,
	}
}

// MarkFallback flags a Decision as produced by the rule-based path after
// a generator failure; Decide applies it when the generator path fails.
func MarkFallback(d Decision) Decision {
	d.FallbackUsed = true
	return d
}

// pressure implements §4.4 step 1.
func (e *Engine) pressure(agent registry.Snapshot, comm *model.Communication) float64 {
	base := float64(comm.Priority) / 5.0
	switch comm.Kind {
	case model.KindDirectOrder:
		base += 0.35
	case model.KindRecommendation:
		base += 0.15
	}
	p := base + 0.3*agent.StressLevel*agent.Personality.WorkloadSensitivity + 0.25*agent.Personality.AuthorityResponse
	return clamp01(p)
}

func pressureOverload(p float64) float64 {
	if p > 0.85 {
		return p - 0.85
	}
	return 0
}

// compliance implements §4.4 step 2.
func (e *Engine) compliance(agent registry.Snapshot, comm *model.Communication) float64 {
	affinity := agent.Relationships[comm.SenderID] // zero-value default if absent, i.e. neutral
	c := 0.5*agent.Personality.AuthorityResponse + 0.3*normalizeAffinity(affinity) + 0.2*agent.Personality.ChangeAdaptability
	return clamp01(c)
}

func normalizeAffinity(a float64) float64 { return (a + 1) / 2 }

// sampleKind implements §4.4 step 3: builds a weighted distribution from
// the kind's base weights, adjusted by pressure/compliance/stress, and
// samples from the agent's own RNG sub-stream.
func (e *Engine) sampleKind(agent registry.Snapshot, comm *model.Communication, pressure, compliance float64) model.ResponseKind {
	weights := make(map[model.ResponseKind]float64, len(kindBaseWeights[comm.Kind]))
	for k, w := range kindBaseWeights[comm.Kind] {
		weights[k] = w
	}
	if len(weights) == 0 {
		weights[model.ResponseProvideFeedback] = 1.0
	}

	// High compliance tendency shifts mass toward take_action, away from
	// ignore; high pressure without compliance shifts toward escalate.
	weights[model.ResponseTakeAction] *= 1 + compliance
	weights[model.ResponseIgnore] *= 1 - 0.6*compliance
	if pressure > 0.7 && compliance < 0.4 {
		weights[model.ResponseEscalate] *= 1 + (pressure - 0.7)
	}
	// Stress above threshold shifts the whole distribution toward
	// escalate/ignore per §8's boundary behavior.
	if agent.StressLevel >= e.params.StressThreshold {
		weights[model.ResponseEscalate] *= 1.5
		weights[model.ResponseIgnore] *= 1.3
		weights[model.ResponseTakeAction] *= 0.7
	}

	return weightedSample(e.rng.Agent(agent.ID+"|kind|"+comm.ID), weights)
}

func weightedSample(rng interface{ Float64() float64 }, weights map[model.ResponseKind]float64) model.ResponseKind {
	kinds := make([]model.ResponseKind, 0, len(weights))
	for k := range weights {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var total float64
	for _, k := range kinds {
		if weights[k] > 0 {
			total += weights[k]
		}
	}
	if total <= 0 {
		return model.ResponseIgnore
	}
	r := rng.Float64() * total
	var cum float64
	for _, k := range kinds {
		if weights[k] <= 0 {
			continue
		}
		cum += weights[k]
		if r < cum {
			return k
		}
	}
	return kinds[len(kinds)-1]
}

// hesitationMarkers implements §4.4 step 4.
func (e *Engine) hesitationMarkers(agent registry.Snapshot, comm *model.Communication) []model.HesitationMarker {
	var markers []model.HesitationMarker
	if agent.CurrentWorkload > 0.85 {
		markers = append(markers, model.HesitationCapacitySaturation)
	}
	if countUnresolvedHighPriority(agent) >= 2 {
		markers = append(markers, model.HesitationPriorityConflict)
	}
	if comm.StrategicGoal != "" && !expertiseOverlap(agent.Profile.ExpertiseTags, comm.StrategicGoal) {
		markers = append(markers, model.HesitationStrategicMisalignment)
	}
	if agent.StressLevel > 0.6 {
		markers = append(markers, model.HesitationUncertainty)
	}
	return markers
}

func countUnresolvedHighPriority(agent registry.Snapshot) int {
	count := 0
	for _, m := range agent.RecentMemory {
		if m.ResponseKind == string(model.ResponseEscalate) || m.ResponseKind == string(model.ResponseSeekClarification) {
			count++
		}
	}
	return count
}

func expertiseOverlap(tags []string, goal string) bool {
	for _, t := range tags {
		if t == goal {
			return true
		}
	}
	return false
}

// drawLatency implements §4.4 step 5: lognormal, bounded to [5m, 2h]
// widened for consultations, delayed by workload and sped by priority.
func (e *Engine) drawLatency(agent registry.Snapshot, comm *model.Communication) time.Duration {
	minLatency := 5 * time.Minute
	maxLatency := 2 * time.Hour
	if comm.Kind == model.KindConsultation || comm.Kind == model.KindCatchball {
		maxLatency = 6 * time.Hour
	}

	rng := e.rng.Agent(agent.ID + "|latency|" + comm.ID)
	mu := math.Log(float64(minLatency+maxLatency) / 2)
	sigma := 0.6
	sample := math.Exp(mu + sigma*normalFloat(rng))

	// workload slows response, priority speeds it up
	sample *= 1 + 0.5*agent.CurrentWorkload
	sample /= 1 + 0.15*float64(comm.Priority)

	d := time.Duration(sample)
	if d < minLatency {
		d = minLatency
	}
	if d > maxLatency {
		d = maxLatency
	}
	return d
}

// normalFloat draws from a standard normal via Box-Muller, staying on the
// same rng.Float64() primitive randstream already guarantees determinism
// for.
func normalFloat(rng interface{ Float64() float64 }) float64 {
	u1 := rng.Float64()
	u2 := rng.Float64()
	if u1 <= 0 {
		u1 = 1e-12
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// computeSideEffects implements §4.4 step 6.
func (e *Engine) computeSideEffects(agent registry.Snapshot, comm *model.Communication, kind model.ResponseKind) (deltaStress, deltaWorkload, affinityDelta float64) {
	compliance := e.compliance(agent, comm)
	affinity := agent.Relationships[comm.SenderID]
	deltaStress = float64(comm.Priority)/5.0*compliance - e.params.CollaborationBonus*normalizeAffinity(affinity)
	deltaStress = clampDelta(deltaStress, -0.3, 0.3)

	if kind == model.ResponseTakeAction || kind == model.ResponseDelegate {
		deltaWorkload = 0.05
	}

	switch kind {
	case model.ResponseTakeAction, model.ResponseProvideFeedback:
		affinityDelta = 0.03
	case model.ResponseIgnore, model.ResponseEscalate:
		affinityDelta = -0.03
	default:
		affinityDelta = 0
	}
	return deltaStress, deltaWorkload, affinityDelta
}

func templateContent(kind model.ResponseKind, comm *model.Communication) string {
	switch kind {
	case model.ResponseTakeAction:
		return "Acknowledged, proceeding on: " + comm.Subject
	case model.ResponseIgnore:
		return ""
	case model.ResponseSeekClarification:
		return "Requesting clarification on: " + comm.Subject
	case model.ResponseEscalate:
		return "Escalating for visibility: " + comm.Subject
	case model.ResponseDelegate:
		return "Delegating: " + comm.Subject
	default:
		return "Noted: " + comm.Subject
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampDelta(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
