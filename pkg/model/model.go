// Package model holds the shared data types of §3 (Communication,
// DeliveryRecord, Response, EscalationThread, WisdomOfTheCrowd) so that
// pkg/tracking, pkg/comms, pkg/escalation, and pkg/wisdom can all refer to
// them without importing one another.
package model

import (
	"time"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/clock"
)

// CommunicationKind is the enumerated kind of a Communication.
type CommunicationKind string

const (
	KindNudge        CommunicationKind = "nudge"
	KindRecommendation CommunicationKind = "recommendation"
	KindDirectOrder  CommunicationKind = "direct_order"
	KindConsultation CommunicationKind = "consultation"
	KindCatchball    CommunicationKind = "catchball"
)

// ResponseKind is the enumerated kind of a Response.
type ResponseKind string

const (
	ResponseIgnore             ResponseKind = "ignore"
	ResponseTakeAction          ResponseKind = "take_action"
	ResponseSeekClarification   ResponseKind = "seek_clarification"
	ResponseProvideFeedback     ResponseKind = "provide_feedback"
	ResponseEscalate            ResponseKind = "escalate"
	ResponseDelegate            ResponseKind = "delegate"
)

// HesitationMarker is one enumerated concern flag attached to a Response.
type HesitationMarker string

const (
	HesitationUncertainty           HesitationMarker = "uncertainty"
	HesitationPriorityConflict       HesitationMarker = "priority_conflict"
	HesitationResourceConstraint     HesitationMarker = "resource_constraint"
	HesitationStrategicMisalignment  HesitationMarker = "strategic_misalignment"
	HesitationNeedsConsensus         HesitationMarker = "needs_consensus"
	HesitationCapacitySaturation     HesitationMarker = "capacity_saturation"
)

// ActionStatus is the lifecycle status of the action a Response commits to.
type ActionStatus string

const (
	ActionNone       ActionStatus = "none"
	ActionCommitted  ActionStatus = "committed"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionBlocked    ActionStatus = "blocked"
)

// DeliveryStatus is the status of one (communication, recipient) delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

// EscalationLevel is a state in the Escalation Manager's state machine.
type EscalationLevel string

const (
	EscalationNudge          EscalationLevel = "nudge"
	EscalationRecommendation EscalationLevel = "recommendation"
	EscalationDirectOrder    EscalationLevel = "direct_order"
	EscalationTerminal       EscalationLevel = "terminal"
)

// Priority is a 1..5 scale; 5 is the most urgent.
type Priority int

const (
	PriorityLowest  Priority = 1
	PriorityLow     Priority = 2
	PriorityMedium  Priority = 3
	PriorityHigh    Priority = 4
	PriorityHighest Priority = 5
)

// Valid reports whether p is in the 1..5 range of §3.
func (p Priority) Valid() bool { return p >= PriorityLowest && p <= PriorityHighest }

// Communication is one message sent from an agent to a set of recipients.
type Communication struct {
	ID             string
	SenderID       string
	RecipientIDs   []string // set semantics, insertion order preserved
	Kind           CommunicationKind
	Priority       Priority
	Subject        string
	Body           string
	StrategicGoal  string // optional, empty if absent
	CreatedAt      clock.SimTime
	ThreadID       string
	TTL            time.Duration // simulated duration after which non-response counts as ignored
}

// DeliveryRecord tracks one (communication, recipient) delivery.
type DeliveryRecord struct {
	CommunicationID     string
	RecipientID         string
	Status              DeliveryStatus
	ScheduledDeliveryTime clock.SimTime
	ActualDeliveryTime   clock.SimTime
	HasActualDeliveryTime bool
}

// Response is one agent's reply to a Communication.
type Response struct {
	ID              string
	CommunicationID string
	AgentID         string
	Kind            ResponseKind
	Content         string
	Confidence      float64
	HesitationMarkers []HesitationMarker
	ActionStatus    ActionStatus
	CreatedAt       clock.SimTime
	FallbackUsed    bool
	Latency         time.Duration
}

// EscalationThread tracks the promotion state machine for one
// (thread_id, recipient_id) pair — see §4.7. CommunicationIDs lists the
// root communication plus any escalated descendants in promotion order.
type EscalationThread struct {
	ThreadID           string
	RecipientID        string
	CommunicationIDs   []string
	NudgesIgnored       int
	RecommendationsIgnored int
	CurrentLevel       EscalationLevel
}

// PriorityConflictKind enumerates the conflict descriptors of §4.8.
type PriorityConflictKind string

const (
	ConflictResource PriorityConflictKind = "resource"
	ConflictTimeline PriorityConflictKind = "timeline"
	ConflictApproach PriorityConflictKind = "approach"
)

// RecommendedAction enumerates the Wisdom Engine's rule-table outputs.
type RecommendedAction string

const (
	ActionScheduleReview      RecommendedAction = "schedule_review"
	ActionReduceScope         RecommendedAction = "reduce_scope"
	ActionCascadeThroughLeads RecommendedAction = "cascade_through_leads"
	ActionConveneCatchball    RecommendedAction = "convene_catchball"
	ActionReaffirmPriority    RecommendedAction = "reaffirm_priority"
)

// ConfidenceBucket is the low/medium/high bucketing of §4.8, split at
// 0.4 and 0.7.
type ConfidenceBucket string

const (
	ConfidenceLow    ConfidenceBucket = "low"
	ConfidenceMedium ConfidenceBucket = "medium"
	ConfidenceHigh   ConfidenceBucket = "high"
)

// BucketConfidence maps a confidence value to its bucket.
func BucketConfidence(c float64) ConfidenceBucket {
	switch {
	case c < 0.4:
		return ConfidenceLow
	case c < 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// WisdomOfTheCrowd is the streaming aggregate over responses to one
// communication or topic — see §4.8.
type WisdomOfTheCrowd struct {
	Key                   string // topic or communication_id
	ConsensusLevel        float64
	HesitationCounts      map[HesitationMarker]int
	ConfidenceDistribution map[ConfidenceBucket]int
	PriorityConflicts     []PriorityConflictKind
	RecommendedActions    []RecommendedAction
	ResponseCount         int
}
