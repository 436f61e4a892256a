// Package agent implements conversational sessions, the tool-orchestration
// loop, and the streaming event pipeline.
package agent

import (
	"github.com/neotalk/edge-ai/internal/config"
)

// AgentConfig configures one agent. Defaults come from the environment
// snapshot taken at construction.
type AgentConfig struct {
	Name                  string
	SystemPrompt          string
	MaxContextTokens      int
	Temperature           float64
	TopP                  float64
	MaxTokens             int
	MaxToolCalls          int
	KeepRecentToolResults int

	// Optional per-agent backend override.
	Endpoint string
	APIKey   string
	Model    string
}

// NewAgentConfig builds an agent configuration from the environment
// snapshot, applying the documented bounds.
func NewAgentConfig(cfg *config.Config) AgentConfig {
	agentCfg := AgentConfig{
		Name:                  "assistant",
		MaxContextTokens:      cfg.MaxContextTokens,
		Temperature:           cfg.Temperature,
		TopP:                  cfg.TopP,
		MaxTokens:             cfg.MaxTokens,
		MaxToolCalls:          8,
		KeepRecentToolResults: 2,
		Model:                 cfg.Model,
	}
	agentCfg.normalize()
	return agentCfg
}

func (c *AgentConfig) normalize() {
	if c.MaxContextTokens < 256 {
		c.MaxContextTokens = 256
	}
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	if c.Temperature > 2 {
		c.Temperature = 2
	}
	if c.MaxToolCalls < 0 {
		c.MaxToolCalls = 0
	}
	if c.KeepRecentToolResults < 0 {
		c.KeepRecentToolResults = 0
	}
}
