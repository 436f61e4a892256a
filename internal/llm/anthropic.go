package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/neotalk/edge-ai/pkg/models"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicRuntime is the Anthropic messages-API client.
type AnthropicRuntime struct {
	client       anthropic.Client
	instance     models.LlmBackendInstance
	limiter      *Limiter
	limiterKey   string
	metrics      *runtimeMetrics
	capabilities models.BackendCapabilities
}

var _ Runtime = (*AnthropicRuntime)(nil)

// NewAnthropicRuntime builds a runtime for an Anthropic instance.
func NewAnthropicRuntime(instance models.LlmBackendInstance) *AnthropicRuntime {
	opts := []option.RequestOption{
		option.WithAPIKey(instance.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: defaultCloudTimeout}),
	}
	if instance.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(instance.Endpoint))
	}
	return &AnthropicRuntime{
		client:       anthropic.NewClient(opts...),
		instance:     instance,
		limiter:      sharedLimiter,
		limiterKey:   LimiterKey(models.BackendAnthropic, instance.APIKey),
		metrics:      newRuntimeMetrics(string(models.BackendAnthropic)),
		capabilities: ProviderCapabilities(models.BackendAnthropic, instance.Model),
	}
}

// Capabilities implements Runtime.
func (r *AnthropicRuntime) Capabilities() models.BackendCapabilities { return r.capabilities }

// Metrics implements Runtime.
func (r *AnthropicRuntime) Metrics() MetricsSnapshot { return r.metrics.snapshot() }

func (r *AnthropicRuntime) buildParams(input *Input) anthropic.MessageNewParams {
	model := input.Model
	if model == "" {
		model = r.instance.Model
	}

	maxTokens := defaultAnthropicMaxTokens
	if input.Params.MaxTokens != nil {
		maxTokens = *input.Params.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}

	// System messages move to the dedicated system field.
	var system string
	for _, msg := range input.Messages {
		switch msg.Role {
		case models.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += msg.Text()
		case models.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text())))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())))
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	temp := input.Params.Temperature
	if temp == nil {
		temp = r.instance.Temperature
	}
	if temp != nil {
		params.Temperature = anthropic.Float(*temp)
	}
	topP := input.Params.TopP
	if topP == nil {
		topP = r.instance.TopP
	}
	if topP != nil {
		params.TopP = anthropic.Float(*topP)
	}
	if len(input.Params.Stop) > 0 {
		params.StopSequences = input.Params.Stop
	}
	return params
}

func classifyAnthropicError(err error) *Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return rateLimitErr("provider returned 429")
		case apiErr.StatusCode >= 500:
			return &Error{Kind: ErrGeneration, Message: "upstream error", Retryable: true, Err: err}
		}
	}
	return generationErr(err)
}

// Generate implements Runtime.
func (r *AnthropicRuntime) Generate(ctx context.Context, input *Input) (*Output, error) {
	if err := r.limiter.Acquire(ctx, models.BackendAnthropic, r.limiterKey); err != nil {
		return nil, err
	}
	start := time.Now()
	r.metrics.recordStart()

	msg, err := r.client.Messages.New(ctx, r.buildParams(input))
	if err != nil {
		r.metrics.recordFailure(start)
		return nil, classifyAnthropicError(err)
	}

	out := &Output{
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "thinking":
			out.Thinking += block.Thinking
		}
	}
	r.metrics.recordSuccess(start, out.Usage.TotalTokens)
	return out, nil
}

// GenerateStream implements Runtime.
func (r *AnthropicRuntime) GenerateStream(ctx context.Context, input *Input) (<-chan Chunk, error) {
	if err := r.limiter.Acquire(ctx, models.BackendAnthropic, r.limiterKey); err != nil {
		return nil, err
	}
	start := time.Now()
	r.metrics.recordStart()

	stream := r.client.Messages.NewStreaming(ctx, r.buildParams(input))
	chunks := make(chan Chunk)

	go func() {
		defer close(chunks)
		tokens := 0
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				messageStart := event.AsMessageStart()
				tokens += int(messageStart.Message.Usage.InputTokens)
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						tokens++
						chunks <- Chunk{Delta: delta.Text}
					}
				case "thinking_delta":
					if delta.Thinking != "" {
						chunks <- Chunk{Thinking: delta.Thinking}
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			chunks <- Chunk{Err: classifyAnthropicError(err)}
			r.metrics.recordFailure(start)
			chunks <- Chunk{Done: true}
			return
		}
		r.metrics.recordSuccess(start, tokens)
		chunks <- Chunk{Done: true}
	}()
	return chunks, nil
}
