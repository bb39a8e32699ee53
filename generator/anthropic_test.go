package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONStripsSurroundingProse(t *testing.T) {
	in := "Sure, here you go:\n{\"kind\":\"take_action\",\"content\":\"ok\"}\nHope that helps!"
	assert.Equal(t, `{"kind":"take_action","content":"ok"}`, extractJSON(in))
}

func TestExtractJSONReturnsEmptyObjectWhenNoBraces(t *testing.T) {
	assert.Equal(t, "{}", extractJSON("no json here"))
}

func TestBuildPromptIncludesAgentAndCommunicationFields(t *testing.T) {
	prompt := buildPrompt(Request{
		AgentRole: "eng-lead", AgentDepartment: "eng", AgentStressLevel: 0.4, AgentWorkload: 0.2,
		CommunicationSubject: "Q3 roadmap", CommunicationBody: "please review",
	})
	assert.Contains(t, prompt, "eng-lead")
	assert.Contains(t, prompt, "Q3 roadmap")
	assert.Contains(t, prompt, "please review")
}
