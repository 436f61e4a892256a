package llm

import (
	"context"
	"time"

	"google.golang.org/genai"

	"github.com/neotalk/edge-ai/pkg/models"
)

// GoogleRuntime is the Gemini API client.
type GoogleRuntime struct {
	client       *genai.Client
	instance     models.LlmBackendInstance
	limiter      *Limiter
	limiterKey   string
	metrics      *runtimeMetrics
	capabilities models.BackendCapabilities
}

var _ Runtime = (*GoogleRuntime)(nil)

// NewGoogleRuntime builds a runtime for a Google instance.
func NewGoogleRuntime(instance models.LlmBackendInstance) (*GoogleRuntime, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  instance.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, configErr("gemini client: %v", err)
	}
	return &GoogleRuntime{
		client:       client,
		instance:     instance,
		limiter:      sharedLimiter,
		limiterKey:   LimiterKey(models.BackendGoogle, instance.APIKey),
		metrics:      newRuntimeMetrics(string(models.BackendGoogle)),
		capabilities: ProviderCapabilities(models.BackendGoogle, instance.Model),
	}, nil
}

// Capabilities implements Runtime.
func (r *GoogleRuntime) Capabilities() models.BackendCapabilities { return r.capabilities }

// Metrics implements Runtime.
func (r *GoogleRuntime) Metrics() MetricsSnapshot { return r.metrics.snapshot() }

func (r *GoogleRuntime) buildRequest(input *Input) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := input.Model
	if model == "" {
		model = r.instance.Model
	}

	config := &genai.GenerateContentConfig{}
	var contents []*genai.Content
	for _, msg := range input.Messages {
		switch msg.Role {
		case models.RoleSystem:
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Text()}},
			}
		case models.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: msg.Text()}},
			})
		default:
			// Tool results arrive from the user side.
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Text()}},
			})
		}
	}

	temp := input.Params.Temperature
	if temp == nil {
		temp = r.instance.Temperature
	}
	if temp != nil {
		config.Temperature = genai.Ptr(float32(*temp))
	}
	topP := input.Params.TopP
	if topP == nil {
		topP = r.instance.TopP
	}
	if topP != nil {
		config.TopP = genai.Ptr(float32(*topP))
	}
	if input.Params.MaxTokens != nil {
		config.MaxOutputTokens = int32(*input.Params.MaxTokens)
	}
	if len(input.Params.Stop) > 0 {
		config.StopSequences = input.Params.Stop
	}
	return model, contents, config
}

// Generate implements Runtime.
func (r *GoogleRuntime) Generate(ctx context.Context, input *Input) (*Output, error) {
	if err := r.limiter.Acquire(ctx, models.BackendGoogle, r.limiterKey); err != nil {
		return nil, err
	}
	start := time.Now()
	r.metrics.recordStart()

	model, contents, config := r.buildRequest(input)
	resp, err := r.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		r.metrics.recordFailure(start)
		return nil, generationErr(err)
	}

	out := &Output{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	r.metrics.recordSuccess(start, out.Usage.TotalTokens)
	return out, nil
}

// GenerateStream implements Runtime.
func (r *GoogleRuntime) GenerateStream(ctx context.Context, input *Input) (<-chan Chunk, error) {
	if err := r.limiter.Acquire(ctx, models.BackendGoogle, r.limiterKey); err != nil {
		return nil, err
	}
	start := time.Now()
	r.metrics.recordStart()

	model, contents, config := r.buildRequest(input)
	chunks := make(chan Chunk)

	go func() {
		defer close(chunks)
		tokens := 0
		for resp, err := range r.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				chunks <- Chunk{Err: generationErr(err)}
				r.metrics.recordFailure(start)
				chunks <- Chunk{Done: true}
				return
			}
			if text := resp.Text(); text != "" {
				tokens++
				chunks <- Chunk{Delta: text}
			}
			if resp.UsageMetadata != nil {
				tokens = int(resp.UsageMetadata.TotalTokenCount)
			}
		}
		r.metrics.recordSuccess(start, tokens)
		chunks <- Chunk{Done: true}
	}()
	return chunks, nil
}
