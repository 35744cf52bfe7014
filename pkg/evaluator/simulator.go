package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tarsyvoice/autotune/pkg/llm"
	"github.com/tarsyvoice/autotune/pkg/models"
)

const endOfCallMarker = "[END_OF_CALL]"

// Simulator runs one simulated conversation between a caller persona
// and a candidate system prompt, alternating turns until satisfaction,
// the turn limit, or an end-of-call marker (spec.md §4.5).
type Simulator interface {
	Simulate(ctx context.Context, systemPrompt string, row models.DatasetRow, turnLimit int) (SimulationOutcome, error)
}

// SimulationOutcome is one case's full simulated transcript.
type SimulationOutcome struct {
	Transcript []models.TurnRecord
	TurnCount  int
	TimedOut   bool
}

// LLMSimulator drives both sides of the conversation through the
// shared llm.Client: the user side from the dataset row's
// SimulatedUserProfile, the agent side from the candidate system
// prompt.
type LLMSimulator struct {
	client    llm.Client
	userModel string
	agentLLM  string
}

// NewLLMSimulator builds a Simulator backed by one llm.Client serving
// both roles (userModel may equal agentLLM).
func NewLLMSimulator(client llm.Client, userModel, agentLLM string) *LLMSimulator {
	return &LLMSimulator{client: client, userModel: userModel, agentLLM: agentLLM}
}

func (s *LLMSimulator) Simulate(ctx context.Context, systemPrompt string, row models.DatasetRow, turnLimit int) (SimulationOutcome, error) {
	profile := row.Input.SimulatedUser
	userSystem := personaSystemPrompt(profile)

	var transcript []models.TurnRecord
	agentHistory := []llm.Message{}
	userHistory := []llm.Message{}

	userOpening, err := s.client.Generate(ctx, llm.GenerateInput{
		Model:  s.userModel,
		System: userSystem,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Begin the call."},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return SimulationOutcome{}, fmt.Errorf("simulate user opening: %w", err)
	}

	current := userOpening.Text
	for turn := 0; turn < turnLimit; turn++ {
		transcript = append(transcript, models.TurnRecord{Role: models.RoleUser, Content: current})
		agentHistory = append(agentHistory, llm.Message{Role: llm.RoleUser, Content: current})

		agentOut, err := s.client.Generate(ctx, llm.GenerateInput{
			Model:    s.agentLLM,
			System:   systemPrompt,
			Messages: agentHistory,
		})
		if err != nil {
			return SimulationOutcome{Transcript: transcript, TurnCount: turn + 1}, fmt.Errorf("simulate agent turn %d: %w", turn, err)
		}

		transcript = append(transcript, models.TurnRecord{Role: models.RoleAssistant, Content: agentOut.Text})
		agentHistory = append(agentHistory, llm.Message{Role: llm.RoleAssistant, Content: agentOut.Text})

		if containsEndMarker(agentOut.Text) {
			return SimulationOutcome{Transcript: transcript, TurnCount: turn + 1}, nil
		}

		userHistory = append(userHistory, llm.Message{Role: llm.RoleUser, Content: agentOut.Text})
		userOut, err := s.client.Generate(ctx, llm.GenerateInput{
			Model:       s.userModel,
			System:      userSystem,
			Messages:    userHistory,
			Temperature: 0.7,
		})
		if err != nil {
			return SimulationOutcome{Transcript: transcript, TurnCount: turn + 1}, fmt.Errorf("simulate user turn %d: %w", turn, err)
		}
		if isSatisfied(userOut.Text) {
			return SimulationOutcome{Transcript: transcript, TurnCount: turn + 1}, nil
		}
		current = userOut.Text
	}

	return SimulationOutcome{Transcript: transcript, TurnCount: turnLimit, TimedOut: true}, nil
}

func personaSystemPrompt(profile models.SimulatedUserProfile) string {
	prompt := "You are a caller in a phone conversation with a voice agent. " + profile.Text
	if profile.Attitude != "" {
		prompt += fmt.Sprintf(" Your attitude is %s.", profile.Attitude)
	}
	if profile.Tone != "" {
		prompt += fmt.Sprintf(" Your tone is %s.", profile.Tone)
	}
	if profile.Cooperativeness != "" {
		prompt += fmt.Sprintf(" Your cooperativeness with the agent's requests is %s.", profile.Cooperativeness)
	}
	if profile.Verbosity != "" {
		prompt += fmt.Sprintf(" Your messages should be %s.", profile.Verbosity)
	}
	if profile.Patience != "" {
		prompt += fmt.Sprintf(" Your patience for unhelpful responses is %s.", profile.Patience)
	}
	if profile.Goal != "" {
		prompt += fmt.Sprintf(" Your goal for this call is: %s.", profile.Goal)
	}
	prompt += ` When you are satisfied the call is complete, reply with exactly "SATISFIED" and nothing else.`
	return prompt
}

func containsEndMarker(text string) bool {
	return strings.Contains(text, endOfCallMarker)
}

func isSatisfied(text string) bool {
	return strings.Contains(text, "SATISFIED")
}
