package llm

import (
	"context"
	"encoding/json"

	"github.com/neotalk/edge-ai/pkg/models"
)

// GenerationParams are the sampling parameters carried on every request.
// Nil pointers fall back to provider defaults.
type GenerationParams struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
}

// ToolSpec describes a callable tool advertised to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Input is one generation request.
type Input struct {
	Messages []models.Message
	Params   GenerationParams
	// Model overrides the instance's configured model when non-empty.
	Model string
	Tools []ToolSpec
}

// Usage reports token accounting when the provider supplies it.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Output is a completed generation.
type Output struct {
	Text      string
	Thinking  string
	ToolCalls []models.ToolCall
	Usage     Usage
}

// Chunk is one streaming increment. A terminal chunk has Done set; an
// errored stream yields exactly one chunk with Err before completing.
type Chunk struct {
	Delta    string
	Thinking string
	ToolCall *models.ToolCall
	Err      error
	Done     bool
}

// Runtime is a live client for one backend instance.
type Runtime interface {
	Generate(ctx context.Context, input *Input) (*Output, error)
	GenerateStream(ctx context.Context, input *Input) (<-chan Chunk, error)
	Capabilities() models.BackendCapabilities
	Metrics() MetricsSnapshot
}

// Float returns a pointer to f, for literal generation params.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to n, for literal generation params.
func Int(n int) *int { return &n }
