// Package generator defines the optional "classify-and-draft" capability
// the Behavior Engine can delegate to (§4.4, §9: "treat as a capability
// interface with a single method"). It is grounded on gomind's
// ai.AIClient / core.AIClient shape (GenerateResponse(ctx, prompt,
// options) (*Response, error)), narrowed to the one method this kernel
// actually needs.
package generator

import (
	"context"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
)

// Request is everything the generator needs to draft a response: the
// incoming communication's text and the responding agent's salient
// context. It deliberately excludes the personality scalars: the prompt
// carries only role, department, stress, workload, and affinity to the
// sender.
type Request struct {
	CommunicationSubject string
	CommunicationBody    string
	CommunicationKind     model.CommunicationKind
	Priority              model.Priority
	AgentRole             string
	AgentDepartment       string
	AgentStressLevel      float64
	AgentWorkload         float64
	AffinityToSender      float64
}

// Draft is the structured result the Behavior Engine needs back: the same
// fields a rule-based decision would have produced, so downstream code
// never has to know which back-end produced a Response.
type Draft struct {
	Kind              model.ResponseKind
	Content           string
	Confidence        float64
	HesitationMarkers []model.HesitationMarker
}

// Backend is the single capability method every generator implementation
// exposes. The kernel must behave identically whether Backend is present
// or absent (§9), so callers always hold a Backend value — Disabled{}
// when no back-end is configured.
type Backend interface {
	ClassifyAndDraft(ctx context.Context, req Request) (Draft, error)
}

// Disabled is the zero-configuration Backend: it always reports itself
// unavailable so the Behavior Engine immediately falls back to the
// rule-based path without incurring any deadline wait.
type Disabled struct{}

func (Disabled) ClassifyAndDraft(ctx context.Context, req Request) (Draft, error) {
	return Draft{}, errBackendDisabled
}

var errBackendDisabled = disabledError{}

type disabledError struct{}

func (disabledError) Error() string { return "generator backend disabled" }
