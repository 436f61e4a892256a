package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/neotalk/edge-ai/pkg/models"
)

const defaultCloudTimeout = 60 * time.Second

// OpenAIRuntime is the OpenAI-compatible chat-completions client. It also
// serves xAI and custom endpoints, which speak the same wire format.
type OpenAIRuntime struct {
	client       *openai.Client
	instance     models.LlmBackendInstance
	limiter      *Limiter
	limiterKey   string
	metrics      *runtimeMetrics
	capabilities models.BackendCapabilities
}

var _ Runtime = (*OpenAIRuntime)(nil)

// NewOpenAIRuntime builds a runtime for an OpenAI-compatible instance.
func NewOpenAIRuntime(instance models.LlmBackendInstance) *OpenAIRuntime {
	cfg := openai.DefaultConfig(instance.APIKey)
	if instance.Endpoint != "" {
		cfg.BaseURL = instance.Endpoint
	}
	cfg.HTTPClient = &http.Client{Timeout: defaultCloudTimeout}

	return &OpenAIRuntime{
		client:       openai.NewClientWithConfig(cfg),
		instance:     instance,
		limiter:      sharedLimiter,
		limiterKey:   LimiterKey(instance.BackendType, instance.APIKey),
		metrics:      newRuntimeMetrics(string(instance.BackendType)),
		capabilities: ProviderCapabilities(instance.BackendType, instance.Model),
	}
}

// Capabilities implements Runtime.
func (r *OpenAIRuntime) Capabilities() models.BackendCapabilities { return r.capabilities }

// Metrics implements Runtime.
func (r *OpenAIRuntime) Metrics() MetricsSnapshot { return r.metrics.snapshot() }

func (r *OpenAIRuntime) buildRequest(input *Input, stream bool) (openai.ChatCompletionRequest, error) {
	messages, err := toOpenAIMessages(input.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	model := input.Model
	if model == "" {
		model = r.instance.Model
	}
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}

	params := input.Params
	if params.Temperature == nil {
		params.Temperature = r.instance.Temperature
	}
	if params.TopP == nil {
		params.TopP = r.instance.TopP
	}
	if params.Temperature != nil {
		req.Temperature = float32(*params.Temperature)
	}
	if params.TopP != nil {
		req.TopP = float32(*params.TopP)
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	if params.FrequencyPenalty != nil {
		req.FrequencyPenalty = float32(*params.FrequencyPenalty)
	}
	if params.PresencePenalty != nil {
		req.PresencePenalty = float32(*params.PresencePenalty)
	}

	for _, tool := range input.Tools {
		var schema any
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
				return openai.ChatCompletionRequest{}, configErr("tool %q has invalid parameter schema", tool.Name)
			}
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		})
	}
	return req, nil
}

// toOpenAIMessages translates the internal message model into the wire
// format. Multi-part messages become vision payloads with data URLs for
// inline images.
func toOpenAIMessages(messages []models.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted := openai.ChatCompletionMessage{Role: string(msg.Role)}

		if len(msg.Parts) > 0 {
			for _, part := range msg.Parts {
				switch {
				case part.Text != "":
					converted.MultiContent = append(converted.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				case part.ImageURL != "":
					converted.MultiContent = append(converted.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL, Detail: toImageDetail(part.Detail)},
					})
				case part.ImageBase64 != nil:
					converted.MultiContent = append(converted.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageBase64.DataURL(), Detail: toImageDetail(part.Detail)},
					})
				}
			}
		} else {
			converted.Content = msg.Content
		}

		for _, tc := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.ArgumentsJSON()),
				},
			})
		}
		if msg.Role == models.RoleTool {
			converted.ToolCallID = msg.ToolCallID
			if converted.ToolCallID == "" {
				converted.ToolCallID = msg.ToolCallName
			}
		}
		out = append(out, converted)
	}
	return out, nil
}

func toImageDetail(detail models.ImageDetail) openai.ImageURLDetail {
	switch detail {
	case models.ImageDetailLow:
		return openai.ImageURLDetailLow
	case models.ImageDetailHigh:
		return openai.ImageURLDetailHigh
	default:
		return openai.ImageURLDetailAuto
	}
}

func classifyOpenAIError(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return rateLimitErr("provider returned 429")
		case apiErr.HTTPStatusCode >= 500:
			return &Error{Kind: ErrGeneration, Message: "upstream error", Retryable: true, Err: err}
		}
	}
	return generationErr(err)
}

// Generate implements Runtime.
func (r *OpenAIRuntime) Generate(ctx context.Context, input *Input) (*Output, error) {
	if err := r.limiter.Acquire(ctx, r.instance.BackendType, r.limiterKey); err != nil {
		return nil, err
	}
	req, err := r.buildRequest(input, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	r.metrics.recordStart()
	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		r.metrics.recordFailure(start)
		return nil, classifyOpenAIError(err)
	}
	r.metrics.recordSuccess(start, resp.Usage.TotalTokens)

	if len(resp.Choices) == 0 {
		return nil, generationErr(errors.New("empty choices in response"))
	}
	choice := resp.Choices[0]
	out := &Output{
		Text: choice.Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		call := models.ToolCall{ID: tc.ID, Name: tc.Function.Name}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &call.Arguments)
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

// GenerateStream implements Runtime. The stream uses the same message
// translation as the non-streaming path; a 429 yields a single retryable
// error chunk and completes.
func (r *OpenAIRuntime) GenerateStream(ctx context.Context, input *Input) (<-chan Chunk, error) {
	if err := r.limiter.Acquire(ctx, r.instance.BackendType, r.limiterKey); err != nil {
		return nil, err
	}
	req, err := r.buildRequest(input, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	start := time.Now()
	r.metrics.recordStart()

	stream, err := r.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		r.metrics.recordFailure(start)
		classified := classifyOpenAIError(err)
		go func() {
			defer close(chunks)
			chunks <- Chunk{Err: classified}
			chunks <- Chunk{Done: true}
		}()
		return chunks, nil
	}

	go r.pumpStream(ctx, stream, chunks, start)
	return chunks, nil
}

func (r *OpenAIRuntime) pumpStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk, start time.Time) {
	defer close(chunks)
	defer stream.Close()

	// Tool calls arrive as argument fragments indexed by position.
	pending := make(map[int]*models.ToolCall)
	pendingArgs := make(map[int]string)
	tokens := 0

	finish := func(failed bool) {
		for index, tc := range pending {
			if tc.Name == "" {
				continue
			}
			if args := pendingArgs[index]; args != "" {
				_ = json.Unmarshal([]byte(args), &tc.Arguments)
			}
			chunks <- Chunk{ToolCall: tc}
		}
		if failed {
			r.metrics.recordFailure(start)
		} else {
			r.metrics.recordSuccess(start, tokens)
		}
		chunks <- Chunk{Done: true}
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Err: transportErr(ctx.Err())}
			finish(true)
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				finish(false)
				return
			}
			chunks <- Chunk{Err: classifyOpenAIError(err)}
			finish(true)
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			tokens++
			chunks <- Chunk{Delta: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				pending[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pendingArgs[index] += tc.Function.Arguments
			}
		}
	}
}
