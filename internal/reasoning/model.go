// Package reasoning adapts the vision-capable reasoning model to the
// grading pipeline: page recognition, loop planning, reflection,
// aggregation, card review, and OCR fallback.
package reasoning

import (
	"context"
	"fmt"

	gaagent "github.com/JaimeStill/go-agents/pkg/agent"
	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
	"golang.org/x/time/rate"
)

// Model sends a prompt, optionally with image data URIs, and returns the
// raw text response.
type Model interface {
	Chat(ctx context.Context, prompt string) (string, error)
	Vision(ctx context.Context, prompt string, images []string) (string, error)
}

// AgentModel calls the configured provider through go-agents. A fresh agent
// is created per call so concurrent workers never share client state.
type AgentModel struct {
	cfg gaconfig.AgentConfig
}

// NewAgentModel creates an AgentModel for cfg.
func NewAgentModel(cfg gaconfig.AgentConfig) *AgentModel {
	return &AgentModel{cfg: cfg}
}

func (m *AgentModel) Chat(ctx context.Context, prompt string) (string, error) {
	a, err := gaagent.New(&m.cfg)
	if err != nil {
		return "", fmt.Errorf("create agent: %w", err)
	}
	resp, err := a.Chat(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("chat call: %w", err)
	}
	return resp.Content(), nil
}

func (m *AgentModel) Vision(ctx context.Context, prompt string, images []string) (string, error) {
	a, err := gaagent.New(&m.cfg)
	if err != nil {
		return "", fmt.Errorf("create agent: %w", err)
	}
	resp, err := a.Vision(ctx, prompt, images)
	if err != nil {
		return "", fmt.Errorf("vision call: %w", err)
	}
	return resp.Content(), nil
}

// NewLimiter returns a limiter allowing rps calls per second with the given
// burst. A non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), max(burst, 1))
}
