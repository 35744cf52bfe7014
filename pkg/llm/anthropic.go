package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient calls the Claude Messages API. The SDK does not
// accept a seed parameter, so every GenerateOutput it returns has
// SeedHonored false (spec.md §9 Open Question a).
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient builds a client authenticated with apiKey.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (c *AnthropicClient) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	messages := make([]anthropic.MessageParam, 0, len(in.Messages))
	for _, m := range in.Messages {
		switch m.Role {
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(in.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(in.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if in.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: in.System}}
	}
	if in.Temperature > 0 {
		params.Temperature = anthropic.Float(in.Temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return GenerateOutput{}, NewCallError("anthropic", isRetryable(err), err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text := block.Text; text != "" {
			sb.WriteString(text)
		}
	}

	return GenerateOutput{Text: sb.String(), SeedHonored: false}, nil
}

func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
