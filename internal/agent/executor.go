package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/neotalk/edge-ai/internal/llm"
	"github.com/neotalk/edge-ai/pkg/models"
)

const eventBuffer = 64

// RuntimeSource resolves the runtime serving a request. The LLM instance
// manager satisfies this interface.
type RuntimeSource interface {
	GetActiveRuntime() (llm.Runtime, error)
}

// Executor drives the per-request tool-orchestration loop and emits the
// agent event stream.
type Executor struct {
	cfg      AgentConfig
	sessions *SessionManager
	runtimes RuntimeSource
	tools    *ToolRegistry
	counter  *TokenCounter
	logger   *slog.Logger
}

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an agent executor.
func NewExecutor(cfg AgentConfig, sessions *SessionManager, runtimes RuntimeSource, tools *ToolRegistry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		cfg:      cfg,
		sessions: sessions,
		runtimes: runtimes,
		tools:    tools,
		counter:  NewTokenCounter(),
		logger:   slog.Default().With("component", "agent"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// emitter serializes event emission for one request. The stream is
// monotonic: nothing is sent after End, and End is sent exactly once.
type emitter struct {
	ch        chan models.AgentEvent
	ctx       context.Context
	sessionID string
	seq       uint64
	ended     bool
}

func (em *emitter) send(ev models.AgentEvent) bool {
	if em.ended {
		return false
	}
	em.seq++
	ev.Sequence = em.seq
	ev.SessionID = em.sessionID
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	select {
	case em.ch <- ev:
		return true
	case <-em.ctx.Done():
		em.ended = true
		return false
	}
}

func (em *emitter) end() {
	if em.ended {
		return
	}
	em.send(models.AgentEvent{Type: models.AgentEventEnd})
	em.ended = true
}

// ProcessMessageEvents runs one user request through the orchestration
// loop and returns its event stream. The stream is single-reader and
// terminates with exactly one End event; cancelling ctx aborts the
// underlying work and releases the stream.
func (e *Executor) ProcessMessageEvents(ctx context.Context, sessionID, userInput string) <-chan models.AgentEvent {
	session := e.sessions.GetOrCreate(sessionID)
	ch := make(chan models.AgentEvent, eventBuffer)

	go func() {
		em := &emitter{ch: ch, ctx: ctx, sessionID: session.ID}
		defer close(ch)
		defer em.end()
		e.run(ctx, em, session.ID, userInput)
	}()
	return ch
}

func (e *Executor) run(ctx context.Context, em *emitter, sessionID, userInput string) {
	e.sessions.Append(sessionID, models.Message{Role: models.RoleUser, Content: userInput})

	toolCallsUsed := 0
	for {
		em.send(models.AgentEvent{
			Type:     models.AgentEventProgress,
			Progress: &models.ProgressPayload{Stage: "prompt"},
		})

		prompt := BuildPrompt(e.counter, e.cfg.SystemPrompt, e.sessions.History(sessionID),
			e.cfg.MaxContextTokens, e.cfg.KeepRecentToolResults)

		runtime, err := e.runtimes.GetActiveRuntime()
		if err != nil {
			e.emitError(em, err)
			return
		}
		e.sessions.SetLlmReady(sessionID, true)

		text, failed := e.streamGeneration(ctx, em, runtime, prompt)
		if failed {
			return
		}

		cleaned, calls := ParseToolCalls(text)
		assistantMsg := models.Message{Role: models.RoleAssistant, Content: cleaned, ToolCalls: calls}
		e.sessions.Append(sessionID, assistantMsg)

		if len(calls) == 0 {
			return
		}

		for _, call := range calls {
			if e.cfg.MaxToolCalls > 0 && toolCallsUsed >= e.cfg.MaxToolCalls {
				em.send(models.AgentEvent{
					Type: models.AgentEventWarning,
					Text: &models.TextPayload{Text: "tool call limit reached"},
				})
				return
			}
			toolCallsUsed++
			e.dispatchTool(ctx, em, sessionID, call)
		}

		if e.cfg.MaxToolCalls > 0 && toolCallsUsed >= e.cfg.MaxToolCalls {
			return
		}
	}
}

// streamGeneration forwards runtime chunks as events and accumulates the
// assistant text. It reports failed=true when the stream ended in error.
func (e *Executor) streamGeneration(ctx context.Context, em *emitter, runtime llm.Runtime, prompt []models.Message) (string, bool) {
	input := &llm.Input{
		Messages: prompt,
		Model:    e.cfg.Model,
		Params: llm.GenerationParams{
			Temperature: llm.Float(e.cfg.Temperature),
			TopP:        llm.Float(e.cfg.TopP),
			MaxTokens:   llm.Int(e.cfg.MaxTokens),
		},
	}
	for _, tool := range e.tools.List() {
		input.Tools = append(input.Tools, llm.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}

	stream, err := runtime.GenerateStream(ctx, input)
	if err != nil {
		e.emitError(em, err)
		return "", true
	}

	var text string
	var structuredCalls []models.ToolCall
	for chunk := range stream {
		switch {
		case chunk.Err != nil:
			e.emitError(em, chunk.Err)
			return "", true
		case chunk.Thinking != "":
			em.send(models.AgentEvent{
				Type: models.AgentEventThinking,
				Text: &models.TextPayload{Text: chunk.Thinking},
			})
		case chunk.Delta != "":
			text += chunk.Delta
			em.send(models.AgentEvent{
				Type: models.AgentEventContent,
				Text: &models.TextPayload{Text: chunk.Delta},
			})
		case chunk.ToolCall != nil:
			structuredCalls = append(structuredCalls, *chunk.ToolCall)
		}
	}

	// Providers with native tool calling deliver calls structurally; fold
	// them into the text form the parser recognizes so the loop has one
	// path.
	if len(structuredCalls) > 0 {
		text += renderStructuredCalls(structuredCalls)
	}
	return text, false
}

func renderStructuredCalls(calls []models.ToolCall) string {
	out := "<tool_calls>"
	for _, call := range calls {
		out += `<invoke name="` + call.Name + `">`
		for key, value := range call.Arguments {
			if s, ok := value.(string); ok {
				out += `<parameter name="` + key + `">` + s + `</parameter>`
			}
		}
		out += "</invoke>"
	}
	return out + "</tool_calls>"
}

func (e *Executor) dispatchTool(ctx context.Context, em *emitter, sessionID string, call models.ToolCall) {
	em.send(models.AgentEvent{
		Type: models.AgentEventToolCallStart,
		Tool: &models.ToolPayload{CallID: call.ID, Name: call.Name, ArgsJSON: call.ArgumentsJSON()},
	})

	start := time.Now()
	result, err := e.tools.Execute(ctx, call.Name, call.Arguments)
	elapsed := time.Since(start).Milliseconds()

	toolMsg := models.Message{
		Role:         models.RoleTool,
		ToolCallID:   call.ID,
		ToolCallName: call.Name,
	}
	payload := &models.ToolPayload{
		CallID:    call.ID,
		Name:      call.Name,
		ElapsedMs: elapsed,
	}
	if err != nil {
		// A failing tool does not stop the loop: the model sees the error
		// text and can recover.
		toolMsg.Content = "error: " + err.Error()
		payload.Result = err.Error()
	} else {
		toolMsg.Content = result
		payload.Success = true
		payload.Result = result
	}
	e.sessions.Append(sessionID, toolMsg)
	em.send(models.AgentEvent{Type: models.AgentEventToolCallEnd, Tool: payload})
}

func (e *Executor) emitError(em *emitter, err error) {
	payload := &models.ErrorPayload{Message: err.Error()}
	if llmErr, ok := err.(*llm.Error); ok {
		payload.Code = string(llmErr.Kind)
		payload.Retryable = llmErr.Retryable
	}
	em.send(models.AgentEvent{Type: models.AgentEventError, Error: payload})
}
