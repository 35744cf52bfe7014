package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// PromptVariant is a candidate system prompt proposed by the Strategy
// Proposer (spec.md §3). Prompt lineage forms a DAG rooted at the seed
// prompt via ParentHash; cycles are impossible because Hash is
// content-derived (spec.md §9 Design Note "Variant graph").
type PromptVariant struct {
	Name       string `json:"name"`
	Text       string `json:"text"`
	Rationale  string `json:"rationale"`
	ParentHash string `json:"parent_hash"`
	Hash       string `json:"hash"`
}

// HashPrompt returns the content hash used for PromptVariant.Hash and
// Trace.PromptHash. Content-addressed so lineage can never cycle.
func HashPrompt(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NewPromptVariant builds a PromptVariant with Hash derived from Text.
func NewPromptVariant(name, text, rationale, parentHash string) PromptVariant {
	return PromptVariant{
		Name:       name,
		Text:       text,
		Rationale:  rationale,
		ParentHash: parentHash,
		Hash:       HashPrompt(text),
	}
}
