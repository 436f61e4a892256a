package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/neotalk/edge-ai/pkg/models"
)

const defaultOllamaTimeout = 180 * time.Second

// OllamaRuntime talks to a local Ollama server over its native API.
type OllamaRuntime struct {
	client       *http.Client
	instance     models.LlmBackendInstance
	baseURL      string
	limiter      *Limiter
	limiterKey   string
	metrics      *runtimeMetrics
	capabilities models.BackendCapabilities
}

var _ Runtime = (*OllamaRuntime)(nil)

// NewOllamaRuntime builds a runtime for an Ollama instance.
func NewOllamaRuntime(instance models.LlmBackendInstance) *OllamaRuntime {
	baseURL := strings.TrimRight(strings.TrimSpace(instance.Endpoint), "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaRuntime{
		client:       &http.Client{Timeout: defaultOllamaTimeout},
		instance:     instance,
		baseURL:      baseURL,
		limiter:      sharedLimiter,
		limiterKey:   LimiterKey(models.BackendOllama, baseURL),
		metrics:      newRuntimeMetrics(string(models.BackendOllama)),
		capabilities: DetectOllamaCapabilities(instance.Model),
	}
}

// Capabilities implements Runtime.
func (r *OllamaRuntime) Capabilities() models.BackendCapabilities { return r.capabilities }

// Metrics implements Runtime.
func (r *OllamaRuntime) Metrics() MetricsSnapshot { return r.metrics.snapshot() }

type ollamaMessage struct {
	Role     string   `json:"role"`
	Content  string   `json:"content"`
	Thinking string   `json:"thinking,omitempty"`
	Images   []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Role     string `json:"role"`
		Content  string `json:"content"`
		Thinking string `json:"thinking,omitempty"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

func (r *OllamaRuntime) buildRequest(input *Input, stream bool) ollamaChatRequest {
	msgs := make([]ollamaMessage, 0, len(input.Messages))
	for _, msg := range input.Messages {
		converted := ollamaMessage{Role: string(msg.Role), Content: msg.Text()}
		for _, img := range msg.Images {
			converted.Images = append(converted.Images, img.Data)
		}
		for _, part := range msg.Parts {
			if part.ImageBase64 != nil {
				converted.Images = append(converted.Images, part.ImageBase64.Data)
			}
		}
		msgs = append(msgs, converted)
	}

	model := input.Model
	if model == "" {
		model = r.instance.Model
	}
	req := ollamaChatRequest{Model: model, Messages: msgs, Stream: stream}

	params := input.Params
	if params.Temperature == nil {
		params.Temperature = r.instance.Temperature
	}
	if params.TopP == nil {
		params.TopP = r.instance.TopP
	}
	if params.Temperature != nil || params.TopP != nil || params.MaxTokens != nil || len(params.Stop) > 0 {
		req.Options = &ollamaOptions{
			Temperature: params.Temperature,
			TopP:        params.TopP,
			NumPredict:  params.MaxTokens,
			Stop:        params.Stop,
		}
	}
	return req
}

func (r *OllamaRuntime) post(ctx context.Context, req ollamaChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, generationErr(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, transportErr(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, transportErr(err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, rateLimitErr("ollama returned 429")
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, generationErr(fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	return resp, nil
}

// Generate implements Runtime.
func (r *OllamaRuntime) Generate(ctx context.Context, input *Input) (*Output, error) {
	if err := r.limiter.Acquire(ctx, models.BackendOllama, r.limiterKey); err != nil {
		return nil, err
	}
	start := time.Now()
	r.metrics.recordStart()

	resp, err := r.post(ctx, r.buildRequest(input, false))
	if err != nil {
		r.metrics.recordFailure(start)
		return nil, err
	}
	defer resp.Body.Close()

	var decoded ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		r.metrics.recordFailure(start)
		return nil, generationErr(err)
	}
	if decoded.Error != "" {
		r.metrics.recordFailure(start)
		return nil, generationErr(fmt.Errorf("%s", decoded.Error))
	}

	total := decoded.PromptEvalCount + decoded.EvalCount
	r.metrics.recordSuccess(start, total)
	return &Output{
		Text:     decoded.Message.Content,
		Thinking: decoded.Message.Thinking,
		Usage: Usage{
			InputTokens:  decoded.PromptEvalCount,
			OutputTokens: decoded.EvalCount,
			TotalTokens:  total,
		},
	}, nil
}

// GenerateStream implements Runtime. Ollama streams newline-delimited JSON
// objects; the final object carries done=true and the token counts.
func (r *OllamaRuntime) GenerateStream(ctx context.Context, input *Input) (<-chan Chunk, error) {
	if err := r.limiter.Acquire(ctx, models.BackendOllama, r.limiterKey); err != nil {
		return nil, err
	}
	start := time.Now()
	r.metrics.recordStart()

	resp, err := r.post(ctx, r.buildRequest(input, true))
	if err != nil {
		r.metrics.recordFailure(start)
		chunks := make(chan Chunk)
		streamErr := err
		go func() {
			defer close(chunks)
			chunks <- Chunk{Err: streamErr}
			chunks <- Chunk{Done: true}
		}()
		return chunks, nil
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		tokens := 0
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var decoded ollamaChatResponse
			if err := json.Unmarshal(line, &decoded); err != nil {
				continue
			}
			if decoded.Error != "" {
				chunks <- Chunk{Err: generationErr(fmt.Errorf("%s", decoded.Error))}
				r.metrics.recordFailure(start)
				chunks <- Chunk{Done: true}
				return
			}
			if decoded.Message.Thinking != "" {
				chunks <- Chunk{Thinking: decoded.Message.Thinking}
			}
			if decoded.Message.Content != "" {
				chunks <- Chunk{Delta: decoded.Message.Content}
			}
			if decoded.Done {
				tokens = decoded.PromptEvalCount + decoded.EvalCount
				break
			}
		}
		if err := scanner.Err(); err != nil {
			chunks <- Chunk{Err: transportErr(err)}
			r.metrics.recordFailure(start)
			chunks <- Chunk{Done: true}
			return
		}
		r.metrics.recordSuccess(start, tokens)
		chunks <- Chunk{Done: true}
	}()
	return chunks, nil
}

// OllamaModel describes one locally available model.
type OllamaModel struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ListOllamaModels fetches the local model list (GET <endpoint>/api/tags).
func ListOllamaModels(ctx context.Context, endpoint string) ([]OllamaModel, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	baseURL = strings.TrimRight(baseURL, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return nil, transportErr(err)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, transportErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, transportErr(fmt.Errorf("GET /api/tags returned %d", resp.StatusCode))
	}

	var decoded struct {
		Models []OllamaModel `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, generationErr(err)
	}
	return decoded.Models, nil
}
