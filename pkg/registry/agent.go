// Package registry owns the Agent Registry (C3): the set of Agents keyed
// by stable ID, department/role indices, and the per-agent mutable state
// (stress, workload, satisfaction, memory, relationships) that only the
// Kernel is permitted to mutate. Indexing is grounded on gomind's
// core/discovery.go filter-by-capability idiom, applied here to
// department and seniority instead of capability tags.
package registry

import (
	"sync"
	"time"
)

// Personality is the immutable six-scalar personality vector, each in
// [0,1]. It never changes after an Agent is constructed.
type Personality struct {
	RiskTolerance         float64 `json:"risk_tolerance"`
	AuthorityResponse     float64 `json:"authority_response"`
	WorkloadSensitivity   float64 `json:"workload_sensitivity"`
	CommunicationStyle    float64 `json:"communication_style"`
	ChangeAdaptability    float64 `json:"change_adaptability"`
	CollaborationPreference float64 `json:"collaboration_preference"`
}

// Interaction is one bounded entry in an agent's memory log.
type Interaction struct {
	CommunicationID string    `json:"communication_id"`
	SenderID        string    `json:"sender_id"`
	ResponseKind    string    `json:"response_kind"`
	Timestamp       time.Time `json:"timestamp"`
}

// Profile is the professional profile of an Agent: department, role,
// seniority, expertise, and org-chart shape. Immutable after creation;
// the agent's current workload is kept on the Agent, not here.
type Profile struct {
	Department      string   `json:"department"`
	Role            string   `json:"role"`
	SeniorityRank   int      `json:"seniority_rank"` // 1..5
	ExpertiseTags   []string `json:"expertise_tags"`
	DirectReportIDs []string `json:"direct_report_ids"`
	WorkloadCapacity float64 `json:"workload_capacity"`
}

// Agent is one simulated employee. Personality and Profile are immutable;
// workload, stress, satisfaction, memory and relationships are the mutable
// part, and only the Kernel touches them (via the accessor methods below,
// each taking the per-agent lock).
type Agent struct {
	ID          string      `json:"id"`
	Profile     Profile     `json:"profile"`
	Personality Personality `json:"personality"`

	mu              sync.RWMutex
	currentWorkload float64
	stressLevel     float64
	satisfaction    float64
	memory          []Interaction
	relationships   map[string]float64 // other_agent_id -> affinity in [-1,1]
	memoryWindow    int
}

// Snapshot is an immutable, race-free view of an Agent's current mutable
// state, handed to the Behavior Engine so it never touches live agent
// memory directly.
type Snapshot struct {
	ID              string
	Profile         Profile
	Personality     Personality
	CurrentWorkload float64
	StressLevel     float64
	Satisfaction    float64
	RecentMemory    []Interaction
	Relationships   map[string]float64
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

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// New constructs an Agent with clamped initial state and a bounded memory
// window (default 20 if memoryWindow <= 0, per §9 expansion).
func New(id string, profile Profile, personality Personality, initialWorkload, initialStress, initialSatisfaction float64, memoryWindow int) *Agent {
	if memoryWindow <= 0 {
		memoryWindow = 20
	}
	return &Agent{
		ID:              id,
		Profile:         profile,
		Personality:     personality,
		currentWorkload: clamp01(initialWorkload),
		stressLevel:     clamp01(initialStress),
		satisfaction:    clamp01(initialSatisfaction),
		relationships:   make(map[string]float64),
		memoryWindow:    memoryWindow,
	}
}

// Snapshot returns a copy of the agent's current mutable state for use by
// the Behavior Engine. The copy is defensive: callers can never mutate
// live agent state through it.
func (a *Agent) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	mem := make([]Interaction, len(a.memory))
	copy(mem, a.memory)
	rel := make(map[string]float64, len(a.relationships))
	for k, v := range a.relationships {
		rel[k] = v
	}
	return Snapshot{
		ID:              a.ID,
		Profile:         a.Profile,
		Personality:     a.Personality,
		CurrentWorkload: a.currentWorkload,
		StressLevel:     a.stressLevel,
		Satisfaction:    a.satisfaction,
		RecentMemory:    mem,
		Relationships:   rel,
	}
}

// ApplySideEffects mutates the agent's stress, workload, memory, and
// relationship-to-sender in one locked critical section, the way
// §4.4 step 6 requires. Deltas are applied then clamped.
func (a *Agent) ApplySideEffects(deltaStress, deltaWorkload float64, interaction Interaction, affinityDelta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stressLevel = clamp01(a.stressLevel + deltaStress)
	a.currentWorkload = clamp01(a.currentWorkload + deltaWorkload)

	a.memory = append([]Interaction{interaction}, a.memory...)
	if len(a.memory) > a.memoryWindow {
		a.memory = a.memory[:a.memoryWindow]
	}

	cur := a.relationships[interaction.SenderID]
	a.relationships[interaction.SenderID] = clampSigned(cur + affinityDelta)
}

// AdjustStress applies delta to stress_level, clamped to [0,1]. Used by
// the scheduler's daily-maintenance/end-of-day handlers, which recover or
// wind down agent state independently of any particular communication and
// so must not touch memory or relationships the way ApplySideEffects does.
func (a *Agent) AdjustStress(delta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stressLevel = clamp01(a.stressLevel + delta)
}

// AdjustWorkload applies delta to current_workload, clamped to [0,1].
func (a *Agent) AdjustWorkload(delta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentWorkload = clamp01(a.currentWorkload + delta)
}

// Affinity returns the agent's current affinity toward other, defaulting
// to 0 (neutral) if no relationship exists yet.
func (a *Agent) Affinity(other string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.relationships[other]
}

// AdjustSatisfaction clamps and applies a delta to satisfaction; used by
// the scheduler's daily-maintenance handler (§4.2).
func (a *Agent) AdjustSatisfaction(delta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.satisfaction = clamp01(a.satisfaction + delta)
}
