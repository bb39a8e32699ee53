// Package wisdom implements the Wisdom Engine (C8): a streaming aggregate
// over the response stream for a communication or topic, emitting
// consensus level, hesitation indicators, confidence distribution,
// detected priority conflicts, and recommended next actions. Responses are
// collected as they arrive and the metrics are recomputed from them on each
// lookup; this shape is grounded on gomind's
// pkg/orchestration/synthesizer.go (ResponseSynthesizer), adapted from
// "synthesize one LLM answer from N agent replies" to "derive consensus
// metrics from N agent Responses".
package wisdom

import (
	"context"
	"math"
	"sync"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/tracking"
	"github.com/kpernyer/living-twin-simulation-sub000/simerr"
)

// Engine maintains one streaming WisdomOfTheCrowd aggregate per key
// (communication_id, or topic = strategic_goal when provided).
type Engine struct {
	mu       sync.RWMutex
	byKey    map[string]*aggregate
	tracking *tracking.Store
}

// aggregate holds every response seen for one key; Get rescans them all
// to build a fresh WisdomOfTheCrowd snapshot on each call.
type aggregate struct {
	responses []*model.Response
}

// New builds a Wisdom Engine holding trackingStore. Topic lookups are
// answered from the engine's own per-key aggregates, not from the store.
func New(trackingStore *tracking.Store) *Engine {
	return &Engine{byKey: make(map[string]*aggregate), tracking: trackingStore}
}

// OnResponse implements comms.ResponseObserver.
func (e *Engine) OnResponse(ctx context.Context, resp *model.Response, comm *model.Communication) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agg := e.byKey[comm.ID]
	if agg == nil {
		agg = &aggregate{}
		e.byKey[comm.ID] = agg
	}
	agg.responses = append(agg.responses, resp)

	if comm.StrategicGoal != "" {
		topicAgg := e.byKey[comm.StrategicGoal]
		if topicAgg == nil {
			topicAgg = &aggregate{}
			e.byKey[comm.StrategicGoal] = topicAgg
		}
		topicAgg.responses = append(topicAgg.responses, resp)
	}
}

// Get returns the current WisdomOfTheCrowd snapshot for key (a
// communication_id or a strategic_goal topic).
func (e *Engine) Get(key string) (model.WisdomOfTheCrowd, error) {
	e.mu.RLock()
	agg, ok := e.byKey[key]
	var responses []*model.Response
	if ok {
		responses = append(responses, agg.responses...)
	}
	e.mu.RUnlock()

	if !ok || len(responses) == 0 {
		return model.WisdomOfTheCrowd{}, simerr.New("wisdom.Get", simerr.KindInvalidArgument, key, simerr.ErrWisdomNotFound)
	}
	return snapshot(key, responses), nil
}

func snapshot(key string, responses []*model.Response) model.WisdomOfTheCrowd {
	w := model.WisdomOfTheCrowd{
		Key:                    key,
		HesitationCounts:       make(map[model.HesitationMarker]int),
		ConfidenceDistribution: make(map[model.ConfidenceBucket]int),
		ResponseCount:          len(responses),
	}

	kindCounts := make(map[model.ResponseKind]float64)
	var totalWeight float64

	for _, r := range responses {
		weight := r.Confidence
		if weight <= 0 {
			weight = 0.01 // avoid erasing a response entirely from the distribution
		}
		kindCounts[r.Kind] += weight
		totalWeight += weight

		for _, m := range r.HesitationMarkers {
			w.HesitationCounts[m]++
		}
		w.ConfidenceDistribution[model.BucketConfidence(r.Confidence)]++
	}

	w.ConsensusLevel = 1 - normalizedShannonEntropy(kindCounts, totalWeight)
	w.PriorityConflicts = detectConflicts(responses, w.HesitationCounts)
	w.RecommendedActions = recommendActions(w)
	return w
}

// normalizedShannonEntropy computes entropy of the kind distribution
// (weighted by confidence), normalized to [0,1] by dividing by log2(n) of
// the number of distinct kinds observed (or 1 if only one kind appears,
// giving entropy 0 and therefore full consensus).
func normalizedShannonEntropy(counts map[model.ResponseKind]float64, total float64) float64 {
	if total <= 0 || len(counts) <= 1 {
		return 0
	}
	var entropy float64
	for _, c := range counts {
		if c <= 0 {
			continue
		}
		p := c / total
		entropy -= p * math.Log2(p)
	}
	maxEntropy := math.Log2(float64(len(counts)))
	if maxEntropy <= 0 {
		return 0
	}
	return entropy / maxEntropy
}

// detectConflicts implements §4.8's three conflict detectors.
func detectConflicts(responses []*model.Response, hesitationCounts map[model.HesitationMarker]int) []model.PriorityConflictKind {
	var conflicts []model.PriorityConflictKind

	// resource: >= 2 respondents tag capacity_saturation with a take_action refusal
	// (i.e. they did NOT take_action despite the marker being present).
	capacitySaturationNonAction := 0
	for _, r := range responses {
		if hasMarker(r.HesitationMarkers, model.HesitationCapacitySaturation) && r.Kind != model.ResponseTakeAction {
			capacitySaturationNonAction++
		}
	}
	if capacitySaturationNonAction >= 2 {
		conflicts = append(conflicts, model.ConflictResource)
	}

	// timeline: respondents' stated latencies collectively exceed a
	// declared deadline is evaluated by the caller supplying a comparable
	// TTL; without that context here, detect a proxy — wide latency spread
	// across responses with low confidence, which is the observable signal
	// this aggregate has access to.
	if latencySpreadExceedsThreshold(responses) {
		conflicts = append(conflicts, model.ConflictTimeline)
	}

	// approach: at least two respondents pick conflicting kinds (one
	// take_action, another escalate or seek_clarification) above a
	// confidence threshold.
	hasConfidentTakeAction := false
	hasConfidentDivergent := false
	for _, r := range responses {
		if r.Confidence < 0.5 {
			continue
		}
		if r.Kind == model.ResponseTakeAction {
			hasConfidentTakeAction = true
		}
		if r.Kind == model.ResponseEscalate || r.Kind == model.ResponseSeekClarification {
			hasConfidentDivergent = true
		}
	}
	if hasConfidentTakeAction && hasConfidentDivergent {
		conflicts = append(conflicts, model.ConflictApproach)
	}

	return conflicts
}

func hasMarker(markers []model.HesitationMarker, target model.HesitationMarker) bool {
	for _, m := range markers {
		if m == target {
			return true
		}
	}
	return false
}

func latencySpreadExceedsThreshold(responses []*model.Response) bool {
	if len(responses) < 2 {
		return false
	}
	var min, max int64
	for i, r := range responses {
		ns := r.Latency.Nanoseconds()
		if i == 0 {
			min, max = ns, ns
			continue
		}
		if ns < min {
			min = ns
		}
		if ns > max {
			max = ns
		}
	}
	// a 3x spread between fastest and slowest stated reply latency is
	// treated as disagreement about urgency.
	return min > 0 && float64(max)/float64(min) >= 3.0
}

// recommendActions implements §4.8's small rule table over the computed
// metrics.
func recommendActions(w model.WisdomOfTheCrowd) []model.RecommendedAction {
	var actions []model.RecommendedAction
	hasConflict := func(k model.PriorityConflictKind) bool {
		for _, c := range w.PriorityConflicts {
			if c == k {
				return true
			}
		}
		return false
	}

	if hasConflict(model.ConflictResource) {
		actions = append(actions, model.ActionReduceScope)
	}
	if hasConflict(model.ConflictApproach) {
		actions = append(actions, model.ActionConveneCatchball)
	}
	if hasConflict(model.ConflictTimeline) {
		actions = append(actions, model.ActionScheduleReview)
	}
	if w.ConsensusLevel < 0.4 && len(actions) == 0 {
		actions = append(actions, model.ActionConveneCatchball)
	}
	if w.ConsensusLevel >= 0.85 && len(actions) == 0 {
		actions = append(actions, model.ActionCascadeThroughLeads)
	}
	if len(actions) == 0 {
		actions = append(actions, model.ActionReaffirmPriority)
	}
	return actions
}
