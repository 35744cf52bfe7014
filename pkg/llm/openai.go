package llm

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient calls the Chat Completions API. Seed is honored
// best-effort by the backend (OpenAI documents it as not guaranteeing
// determinism), so SeedHonored reports whether a seed was sent at all,
// not whether the response was actually deterministic.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient builds a client authenticated with apiKey.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (c *OpenAIClient) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages)+1)
	if in.System != "" {
		messages = append(messages, openai.SystemMessage(in.System))
	}
	for _, m := range in.Messages {
		switch m.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(in.Model),
		Messages: messages,
	}
	if in.Temperature > 0 {
		params.Temperature = openai.Float(in.Temperature)
	}
	seedHonored := false
	if in.Seed != nil {
		params.Seed = openai.Int(*in.Seed)
		seedHonored = true
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return GenerateOutput{}, NewCallError("openai", isOpenAIRetryable(err), err)
	}
	if len(resp.Choices) == 0 {
		return GenerateOutput{}, NewCallError("openai", false, errors.New("empty choices in response"))
	}

	return GenerateOutput{Text: resp.Choices[0].Message.Content, SeedHonored: seedHonored}, nil
}

func isOpenAIRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
