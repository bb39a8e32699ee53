// Package httpapi implements the External Interface Adapter (C11): a thin
// net/http translation of the §6 control protocol onto Kernel operations.
// The wire shapes below are this adapter's own concrete choice — §1
// places the exact JSON contract out of scope, but C11 itself is in
// scope (§2), so a contract had to be picked to exercise it; see
// DESIGN.md for the reasoning.
package httpapi

import (
	"time"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/registry"
)

// AgentSpec is the wire shape for bootstrapping one agent at
// /simulation/start, mirroring pkg/registry.Profile/Personality/initial
// mutable state.
type AgentSpec struct {
	ID                  string   `json:"id"`
	Department          string   `json:"department"`
	Role                string   `json:"role"`
	SeniorityRank       int      `json:"seniority_rank"`
	ExpertiseTags       []string `json:"expertise_tags,omitempty"`
	DirectReportIDs     []string `json:"direct_report_ids,omitempty"`
	WorkloadCapacity    float64  `json:"workload_capacity"`
	InitialWorkload     float64  `json:"initial_workload"`
	InitialStress       float64  `json:"initial_stress"`
	InitialSatisfaction float64  `json:"initial_satisfaction"`

	RiskTolerance           float64 `json:"risk_tolerance"`
	AuthorityResponse       float64 `json:"authority_response"`
	WorkloadSensitivity     float64 `json:"workload_sensitivity"`
	CommunicationStyle      float64 `json:"communication_style"`
	ChangeAdaptability      float64 `json:"change_adaptability"`
	CollaborationPreference float64 `json:"collaboration_preference"`
}

// StartRequest is the /simulation/start request body.
type StartRequest struct {
	OrgID  string      `json:"org_id"`
	Agents []AgentSpec `json:"agents"`

	TimeAccelerationFactor *float64 `json:"time_acceleration_factor,omitempty"`
	RandomSeed             *int64   `json:"random_seed,omitempty"`
}

// StartResponse is the /simulation/start response body.
type StartResponse struct {
	Organization string    `json:"organization"`
	StartedAt    time.Time `json:"started_at"`
}

// StopResponse is the /simulation/stop response body.
type StopResponse struct {
	StoppedAt time.Time `json:"stopped_at"`
}

// SnapshotResponse is the /simulation/snapshot response body.
type SnapshotResponse struct {
	SavedAt time.Time `json:"saved_at"`
}

// OrganizationInfo is the /organizations/{id} response body.
type OrganizationInfo struct {
	ID         string    `json:"id"`
	Running    bool      `json:"running"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	AgentCount int       `json:"agent_count"`
}

// AgentView is one entry of the /employees and
// /organizations/{id}/employees response bodies.
type AgentView struct {
	ID              string   `json:"id"`
	Department      string   `json:"department"`
	Role            string   `json:"role"`
	SeniorityRank   int      `json:"seniority_rank"`
	ExpertiseTags   []string `json:"expertise_tags,omitempty"`
	DirectReportIDs []string `json:"direct_report_ids,omitempty"`
	CurrentWorkload float64  `json:"current_workload"`
	StressLevel     float64  `json:"stress_level"`
	Satisfaction    float64  `json:"satisfaction"`
}

// CommunicationRequest is the /communications request body: sender,
// recipients, a communication_type of nudge, recommendation,
// direct_order, consultation or catchball, content, a priority of low,
// medium, high or critical, and an optional strategic_goal.
type CommunicationRequest struct {
	SenderID          string   `json:"sender_id"`
	RecipientIDs      []string `json:"recipient_ids"`
	CommunicationType string   `json:"communication_type"`
	Content           string   `json:"content"`
	Priority          string   `json:"priority"`
	StrategicGoal     string   `json:"strategic_goal,omitempty"`
}

// CommunicationResponse is the /communications response body: the
// accepted Communication, echoed back with its assigned ID and thread.
type CommunicationResponse struct {
	ID            string   `json:"id"`
	ThreadID      string   `json:"thread_id"`
	SenderID      string   `json:"sender_id"`
	RecipientIDs  []string `json:"recipient_ids"`
	Kind          string   `json:"communication_type"`
	Priority      int      `json:"priority"`
	StrategicGoal string   `json:"strategic_goal,omitempty"`
}

// WisdomResponse is the /wisdom response body.
type WisdomResponse struct {
	Key                string         `json:"key"`
	ConsensusLevel     float64        `json:"consensus_level"`
	HesitationCounts   map[string]int `json:"hesitation_counts"`
	ConfidenceBuckets  map[string]int `json:"confidence_distribution"`
	PriorityConflicts  []string       `json:"priority_conflicts"`
	RecommendedActions []string       `json:"recommended_actions"`
	ResponseCount      int            `json:"response_count"`
}

// ErrorResponse is the typed JSON error body of §7: "clients see typed
// JSON errors with a stable machine-readable code and a human-readable
// message".
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AgentsFromSpecs builds the Agent Registry's seed slice from the wire
// AgentSpec list, shared by the /simulation/start handler and the
// simulationd "start" CLI subcommand so both bootstrap agents identically.
func AgentsFromSpecs(specs []AgentSpec, memoryWindow int) []*registry.Agent {
	agents := make([]*registry.Agent, 0, len(specs))
	for _, spec := range specs {
		agents = append(agents, registry.New(
			spec.ID,
			registry.Profile{
				Department:       spec.Department,
				Role:             spec.Role,
				SeniorityRank:    spec.SeniorityRank,
				ExpertiseTags:    spec.ExpertiseTags,
				DirectReportIDs:  spec.DirectReportIDs,
				WorkloadCapacity: spec.WorkloadCapacity,
			},
			registry.Personality{
				RiskTolerance:           spec.RiskTolerance,
				AuthorityResponse:       spec.AuthorityResponse,
				WorkloadSensitivity:     spec.WorkloadSensitivity,
				CommunicationStyle:      spec.CommunicationStyle,
				ChangeAdaptability:      spec.ChangeAdaptability,
				CollaborationPreference: spec.CollaborationPreference,
			},
			spec.InitialWorkload, spec.InitialStress, spec.InitialSatisfaction,
			memoryWindow,
		))
	}
	return agents
}
