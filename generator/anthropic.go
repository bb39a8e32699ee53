package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
)

// Anthropic is the generator-backed Backend implementation, grounded on
// gomind's ai/providers/anthropic/client.go prompt-shaping idiom but using
// the real SDK instead of a hand-rolled net/http client. The model is
// prompted to emit exactly the structured fields Draft needs, so no
// separate natural-language classifier step is required.
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic builds an Anthropic backend. apiKey is passed through to
// the SDK's option.WithAPIKey; an empty key lets the SDK fall back to the
// ANTHROPIC_API_KEY environment variable, matching the SDK's own default.
func NewAnthropic(apiKey string, model anthropic.Model) *Anthropic {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: model}
}

type structuredDraft struct {
	Kind              string   `json:"kind"`
	Content           string   `json:"content"`
	Confidence        float64  `json:"confidence"`
	HesitationMarkers []string `json:"hesitation_markers"`
}

func (a *Anthropic) ClassifyAndDraft(ctx context.Context, req Request) (Draft, error) {
	prompt := buildPrompt(req)

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Draft{}, fmt.Errorf("generator/anthropic: request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	var sd structuredDraft
	if err := json.Unmarshal([]byte(extractJSON(text.String())), &sd); err != nil {
		return Draft{}, fmt.Errorf("generator/anthropic: parsing structured draft: %w", err)
	}

	markers := make([]model.HesitationMarker, 0, len(sd.HesitationMarkers))
	for _, m := range sd.HesitationMarkers {
		markers = append(markers, model.HesitationMarker(m))
	}

	return Draft{
		Kind:              model.ResponseKind(sd.Kind),
		Content:           sd.Content,
		Confidence:        sd.Confidence,
		HesitationMarkers: markers,
	}, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are simulating an employee's reaction to an internal communication. ")
	b.WriteString("Respond with ONLY a JSON object with keys kind, content, confidence, hesitation_markers.\n")
	fmt.Fprintf(&b, "kind must be one of: ignore, take_action, seek_clarification, provide_feedback, escalate, delegate.\n")
	fmt.Fprintf(&b, "Role: %s in %s. Current stress: %.2f. Current workload: %.2f. Affinity to sender: %.2f.\n",
		req.AgentRole, req.AgentDepartment, req.AgentStressLevel, req.AgentWorkload, req.AffinityToSender)
	fmt.Fprintf(&b, "Communication kind: %s, priority: %d\nSubject: %s\nBody: %s\n",
		req.CommunicationKind, req.Priority, req.CommunicationSubject, req.CommunicationBody)
	return b.String()
}

// extractJSON trims any leading/trailing prose the model adds despite
// instructions, keeping only the outermost JSON object.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return "{}"
	}
	return s[start : end+1]
}
