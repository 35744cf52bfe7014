// Package llm abstracts the three vendor SDKs the Strategy Proposer and
// Scorer Suite call through: one text-in/JSON-out contract dispatched to
// Anthropic, OpenAI, or Gemini depending on the model's configured
// backend.
package llm

import "context"

// Message roles accepted in a GenerateInput's conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

// GenerateInput is one call to Generate: a system prompt, the
// conversation so far, and the generation parameters to apply.
type GenerateInput struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	Seed        *int64
	MaxTokens   int
}

// GenerateOutput is the model's response plus the generation metadata
// actually applied, used to populate models.GenerationParams on the
// findings_and_variants.json artifact.
type GenerateOutput struct {
	Text        string
	SeedHonored bool
}

// Client is the interface the Strategy Proposer and the LLM-judge
// scorers call through. Each concrete backend wraps one vendor SDK and
// returns plain text; callers that need structured output are
// responsible for instructing the model to emit JSON and parsing the
// result themselves, since JSON-mode support differs across vendors.
type Client interface {
	Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error)
}
