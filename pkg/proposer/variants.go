package proposer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tarsyvoice/autotune/pkg/llm"
	"github.com/tarsyvoice/autotune/pkg/models"
)

const variantSystemPrompt = `You improve a voice agent's system prompt based on observed failures.
Respond with a single JSON array of prompt variants and nothing else, each of the shape:
{"name": "...", "text": "...", "rationale": "..."}
Each variant's "text" must be a complete, standalone system prompt.
Each variant must differ from the others and from the current prompt in at least one
named lever: escalation ordering, de-escalation cadence, turn budget, or action specificity.`

type rawVariant struct {
	Name      string `json:"name"`
	Text      string `json:"text"`
	Rationale string `json:"rationale"`
}

// ProposeResult is the Strategy Proposer's output for one tick.
type ProposeResult struct {
	Variants []models.PromptVariant
	Params   models.GenerationParams
	Why      string // set when fewer than N distinct variants could be produced
}

// Propose asks the generator model for n distinct prompt variants,
// rejecting any whose content hash matches the current prompt or an
// already-accepted variant, retrying up to maxRetries times to fill
// the shortfall (spec.md §4.4 point 4).
func Propose(ctx context.Context, client llm.Client, generatorModel string, currentPrompt string, findings []string, n, maxRetries int) (ProposeResult, error) {
	currentHash := models.HashPrompt(currentPrompt)
	accepted := make([]models.PromptVariant, 0, n)
	acceptedHashes := map[string]bool{currentHash: true}

	var params models.GenerationParams
	var lastErr error

	for attempt := 0; attempt <= maxRetries && len(accepted) < n; attempt++ {
		needed := n - len(accepted)
		seed := int64(attempt + 1)

		out, err := client.Generate(ctx, llm.GenerateInput{
			Model:       generatorModel,
			System:      variantSystemPrompt,
			Temperature: 0.7,
			Seed:        &seed,
			Messages: []llm.Message{
				{Role: llm.RoleUser, Content: requestBody(currentPrompt, findings, needed)},
			},
		})
		if err != nil {
			lastErr = fmt.Errorf("generate variants (attempt %d): %w", attempt, err)
			continue
		}
		params = models.GenerationParams{
			Model:       generatorModel,
			Temperature: 0.7,
			Seed:        &seed,
			SeedHonored: out.SeedHonored,
		}

		var raws []rawVariant
		if err := json.Unmarshal([]byte(out.Text), &raws); err != nil {
			lastErr = fmt.Errorf("malformed variant JSON (attempt %d): %w", attempt, err)
			continue
		}

		for _, raw := range raws {
			if len(accepted) >= n {
				break
			}
			variant := models.NewPromptVariant(raw.Name, raw.Text, raw.Rationale, currentHash)
			if acceptedHashes[variant.Hash] {
				continue
			}
			acceptedHashes[variant.Hash] = true
			accepted = append(accepted, variant)
		}
	}

	result := ProposeResult{Variants: accepted, Params: params}
	if len(accepted) < n {
		why := fmt.Sprintf("produced %d of %d requested variants after %d attempts", len(accepted), n, maxRetries+1)
		if lastErr != nil {
			why += ": " + lastErr.Error()
		}
		result.Why = why
	}
	return result, nil
}

func requestBody(currentPrompt string, findings []string, n int) string {
	body := fmt.Sprintf("Current prompt:\n%s\n\nFindings:\n", currentPrompt)
	for _, f := range findings {
		body += "- " + f + "\n"
	}
	body += fmt.Sprintf("\nPropose %d distinct variants.", n)
	return body
}
