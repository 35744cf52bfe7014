package proposer_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsyvoice/autotune/pkg/llm"
	"github.com/tarsyvoice/autotune/pkg/proposer"
)

type scriptedClient struct {
	responses []string
	calls     int
}

func (c *scriptedClient) Generate(ctx context.Context, in llm.GenerateInput) (llm.GenerateOutput, error) {
	resp := c.responses[c.calls]
	if c.calls < len(c.responses)-1 {
		c.calls++
	}
	return llm.GenerateOutput{Text: resp, SeedHonored: true}, nil
}

func rawJSON(t *testing.T, variants ...map[string]string) string {
	t.Helper()
	data, err := json.Marshal(variants)
	require.NoError(t, err)
	return string(data)
}

func TestPropose_AcceptsDistinctVariants(t *testing.T) {
	client := &scriptedClient{responses: []string{
		rawJSON(t,
			map[string]string{"name": "v1", "text": "Be concise.", "rationale": "shorter turns"},
			map[string]string{"name": "v2", "text": "Escalate sooner.", "rationale": "faster escalation"},
		),
	}}

	result, err := proposer.Propose(context.Background(), client, "claude-opus-4-6", "You are a helpful agent.", []string{"too slow to escalate"}, 2, 2)
	require.NoError(t, err)
	assert.Len(t, result.Variants, 2)
	assert.Empty(t, result.Why)
	assert.True(t, result.Params.SeedHonored)
}

func TestPropose_RejectsDuplicateOfCurrentPrompt(t *testing.T) {
	current := "You are a helpful agent."
	client := &scriptedClient{responses: []string{
		rawJSON(t,
			map[string]string{"name": "v1", "text": current, "rationale": "no change"},
			map[string]string{"name": "v2", "text": "Escalate sooner.", "rationale": "faster escalation"},
		),
		rawJSON(t,
			map[string]string{"name": "v3", "text": "Be terser.", "rationale": "shorter turns"},
		),
	}}

	result, err := proposer.Propose(context.Background(), client, "claude-opus-4-6", current, nil, 2, 2)
	require.NoError(t, err)
	assert.Len(t, result.Variants, 2)
}

func TestPropose_RecordsWhyOnShortfall(t *testing.T) {
	client := &scriptedClient{responses: []string{
		rawJSON(t, map[string]string{"name": "v1", "text": "Only one.", "rationale": "r"}),
	}}

	result, err := proposer.Propose(context.Background(), client, "claude-opus-4-6", "current", nil, 3, 0)
	require.NoError(t, err)
	assert.Len(t, result.Variants, 1)
	assert.NotEmpty(t, result.Why)
}
