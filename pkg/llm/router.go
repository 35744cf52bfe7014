package llm

import (
	"context"
	"fmt"

	"github.com/tarsyvoice/autotune/pkg/config"
)

// Router dispatches Generate calls to the concrete backend matching
// each call's model, selected via config.BackendForModel. It implements
// Client itself so the worker holds a single handle regardless of how
// many model identifiers it ends up calling across judge/agent/proposer
// roles.
type Router struct {
	backends map[config.LLMBackend]Client
}

// NewRouter builds a Router from the concrete clients constructed by
// the caller (main.go), one per vendor the deployment has credentials
// for.
func NewRouter(backends map[config.LLMBackend]Client) *Router {
	return &Router{backends: backends}
}

// Generate resolves in.Model to a backend via config.BackendForModel
// and dispatches to it.
func (r *Router) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	backend := config.BackendForModel(in.Model)
	client, ok := r.backends[backend]
	if !ok {
		return GenerateOutput{}, fmt.Errorf("llm: no client configured for backend %q (model %q)", backend, in.Model)
	}
	return client.Generate(ctx, in)
}
