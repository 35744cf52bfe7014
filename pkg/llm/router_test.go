package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsyvoice/autotune/pkg/config"
	"github.com/tarsyvoice/autotune/pkg/llm"
)

type fakeClient struct {
	name string
}

func (f *fakeClient) Generate(ctx context.Context, in llm.GenerateInput) (llm.GenerateOutput, error) {
	return llm.GenerateOutput{Text: f.name + ":" + in.Model}, nil
}

func TestRouter_DispatchesByModelPrefix(t *testing.T) {
	router := llm.NewRouter(map[config.LLMBackend]llm.Client{
		config.LLMBackendAnthropic: &fakeClient{name: "anthropic"},
		config.LLMBackendOpenAI:    &fakeClient{name: "openai"},
		config.LLMBackendGemini:    &fakeClient{name: "gemini"},
	})

	out, err := router.Generate(context.Background(), llm.GenerateInput{Model: "claude-opus-4-6"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-opus-4-6", out.Text)

	out, err = router.Generate(context.Background(), llm.GenerateInput{Model: "gpt-5"})
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-5", out.Text)

	out, err = router.Generate(context.Background(), llm.GenerateInput{Model: "gemini-2.5-pro"})
	require.NoError(t, err)
	assert.Equal(t, "gemini:gemini-2.5-pro", out.Text)
}

func TestRouter_UnconfiguredBackendErrors(t *testing.T) {
	router := llm.NewRouter(map[config.LLMBackend]llm.Client{
		config.LLMBackendAnthropic: &fakeClient{name: "anthropic"},
	})

	_, err := router.Generate(context.Background(), llm.GenerateInput{Model: "gpt-5"})
	require.Error(t, err)
}
