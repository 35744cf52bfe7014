package llm

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

// GeminiClient calls the Gemini API through google.golang.org/genai.
// The SDK accepts an integer seed on GenerateContentConfig, so
// SeedHonored reports whether a seed was supplied.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient builds a client authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{client: client}, nil
}

func (c *GeminiClient) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	contents := make([]*genai.Content, 0, len(in.Messages))
	for _, m := range in.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{}
	if in.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: in.System}}}
	}
	seedHonored := false
	if in.Temperature > 0 {
		t := float32(in.Temperature)
		cfg.Temperature = &t
	}
	if in.Seed != nil {
		s := int32(*in.Seed)
		cfg.Seed = &s
		seedHonored = true
	}

	resp, err := c.client.Models.GenerateContent(ctx, in.Model, contents, cfg)
	if err != nil {
		return GenerateOutput{}, NewCallError("gemini", isGeminiRetryable(err), err)
	}

	text := resp.Text()
	if text == "" {
		return GenerateOutput{}, NewCallError("gemini", false, errors.New("empty response text"))
	}

	return GenerateOutput{Text: text, SeedHonored: seedHonored}, nil
}

func isGeminiRetryable(err error) bool {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return false
}
