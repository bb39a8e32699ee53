package generator

import (
	"context"
	"strings"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
)

// Mock is a deterministic Backend used in tests, grounded on the pack's
// mock AI-provider idiom (a fixed, inspectable stand-in for a real LLM
// call). It classifies by simple keyword heuristics over the
// communication body instead of calling out to any model.
type Mock struct{}

func (Mock) ClassifyAndDraft(ctx context.Context, req Request) (Draft, error) {
	body := strings.ToLower(req.CommunicationBody)
	kind := model.ResponseTakeAction
	confidence := 0.75
	var markers []model.HesitationMarker

	switch {
	case req.AgentWorkload > 0.85:
		kind = model.ResponseEscalate
		confidence = 0.5
		markers = append(markers, model.HesitationCapacitySaturation)
	case strings.Contains(body, "clarify") || strings.Contains(body, "unclear"):
		kind = model.ResponseSeekClarification
		confidence = 0.6
		markers = append(markers, model.HesitationUncertainty)
	case req.CommunicationKind == model.KindDirectOrder:
		kind = model.ResponseTakeAction
		confidence = 0.85
	}

	return Draft{
		Kind:              kind,
		Content:           "acknowledged: " + req.CommunicationSubject,
		Confidence:        confidence,
		HesitationMarkers: markers,
	}, nil
}
