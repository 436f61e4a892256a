package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/neotalk/edge-ai/internal/llm"
	"github.com/neotalk/edge-ai/internal/store"
	"github.com/neotalk/edge-ai/pkg/models"
)

// scriptedRuntime plays back one canned response per generation call.
type scriptedRuntime struct {
	responses []string
	calls     int
	failWith  error
}

func (s *scriptedRuntime) Generate(context.Context, *llm.Input) (*llm.Output, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	text := s.responses[min(s.calls, len(s.responses)-1)]
	s.calls++
	return &llm.Output{Text: text}, nil
}

func (s *scriptedRuntime) GenerateStream(context.Context, *llm.Input) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 8)
	if s.failWith != nil {
		ch <- llm.Chunk{Err: s.failWith}
		ch <- llm.Chunk{Done: true}
		close(ch)
		return ch, nil
	}
	text := s.responses[min(s.calls, len(s.responses)-1)]
	s.calls++
	ch <- llm.Chunk{Thinking: "considering"}
	ch <- llm.Chunk{Delta: text}
	ch <- llm.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (s *scriptedRuntime) Capabilities() models.BackendCapabilities {
	return models.BackendCapabilities{SupportsStreaming: true}
}

func (s *scriptedRuntime) Metrics() llm.MetricsSnapshot { return llm.MetricsSnapshot{} }

type fakeSource struct{ runtime llm.Runtime }

func (f *fakeSource) GetActiveRuntime() (llm.Runtime, error) {
	if f.runtime == nil {
		return nil, errors.New("no active backend")
	}
	return f.runtime, nil
}

func newTestExecutor(t *testing.T, runtime llm.Runtime) (*Executor, *ToolRegistry) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sessions := NewSessionManager(st)
	tools := NewToolRegistry()
	cfg := AgentConfig{
		Name:                  "test",
		SystemPrompt:          "You are a test agent.",
		MaxContextTokens:      4096,
		MaxToolCalls:          8,
		KeepRecentToolResults: 2,
		MaxTokens:             256,
	}
	return NewExecutor(cfg, sessions, &fakeSource{runtime: runtime}, tools), tools
}

func collect(t *testing.T, ch <-chan models.AgentEvent) []models.AgentEvent {
	t.Helper()
	var events []models.AgentEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("event stream did not terminate")
		}
	}
}

func TestEventSequenceWithTwoToolCalls(t *testing.T) {
	runtime := &scriptedRuntime{responses: []string{
		`<tool_calls><invoke name="tool.a"><parameter name="x">1</parameter></invoke></tool_calls>`,
		`<tool_calls><invoke name="tool.b"><parameter name="y">2</parameter></invoke></tool_calls>`,
		"All done.",
	}}
	exec, tools := newTestExecutor(t, runtime)
	for _, name := range []string{"tool.a", "tool.b"} {
		tools.Register(&ToolFunc{
			ToolName: name,
			Fn: func(context.Context, map[string]any) (string, error) {
				return "ok", nil
			},
		})
	}

	events := collect(t, exec.ProcessMessageEvents(context.Background(), "s1", "do both things"))

	// Terminal End exactly once, nothing after it.
	endCount := 0
	endIndex := -1
	for i, ev := range events {
		if ev.Type == models.AgentEventEnd {
			endCount++
			endIndex = i
		}
	}
	if endCount != 1 {
		t.Fatalf("End events = %d, want exactly 1", endCount)
	}
	if endIndex != len(events)-1 {
		t.Fatalf("events after End: %+v", events[endIndex+1:])
	}

	// The tool lifecycle ordering: Start(A), End(A), Start(B), End(B).
	var toolEvents []string
	for _, ev := range events {
		switch ev.Type {
		case models.AgentEventToolCallStart:
			toolEvents = append(toolEvents, "start:"+ev.Tool.Name)
		case models.AgentEventToolCallEnd:
			toolEvents = append(toolEvents, "end:"+ev.Tool.Name)
			if !ev.Tool.Success {
				t.Errorf("tool %s reported failure", ev.Tool.Name)
			}
		}
	}
	want := []string{"start:tool.a", "end:tool.a", "start:tool.b", "end:tool.b"}
	if len(toolEvents) != len(want) {
		t.Fatalf("tool events = %v, want %v", toolEvents, want)
	}
	for i := range want {
		if toolEvents[i] != want[i] {
			t.Errorf("tool event %d = %s, want %s", i, toolEvents[i], want[i])
		}
	}

	// Progress precedes everything; sequence numbers are monotonic.
	if events[0].Type != models.AgentEventProgress || events[0].Progress.Stage != "prompt" {
		t.Errorf("first event = %+v", events[0])
	}
	for i := 1; i < len(events); i++ {
		if events[i].Sequence <= events[i-1].Sequence {
			t.Fatalf("sequence not monotonic at %d", i)
		}
	}
}

func TestUpstreamErrorTerminatesWithEnd(t *testing.T) {
	runtime := &scriptedRuntime{failWith: &llm.Error{Kind: llm.ErrGeneration, Message: "boom"}}
	exec, _ := newTestExecutor(t, runtime)

	events := collect(t, exec.ProcessMessageEvents(context.Background(), "s2", "hello"))

	var sawError, sawEnd bool
	for _, ev := range events {
		if ev.Type == models.AgentEventError {
			sawError = true
			if ev.Error.Code != string(llm.ErrGeneration) {
				t.Errorf("error code = %q", ev.Error.Code)
			}
		}
		if ev.Type == models.AgentEventEnd {
			sawEnd = true
		}
	}
	if !sawError || !sawEnd {
		t.Errorf("error=%v end=%v, want both", sawError, sawEnd)
	}
}

func TestToolFailureContinuesLoop(t *testing.T) {
	runtime := &scriptedRuntime{responses: []string{
		`<tool_calls><invoke name="broken.tool"><parameter name="x">1</parameter></invoke></tool_calls>`,
		"Recovered without the tool.",
	}}
	exec, tools := newTestExecutor(t, runtime)
	tools.Register(&ToolFunc{
		ToolName: "broken.tool",
		Fn: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("device offline")
		},
	})

	events := collect(t, exec.ProcessMessageEvents(context.Background(), "s3", "try it"))

	var sawFailedEnd, sawFinalContent bool
	for _, ev := range events {
		if ev.Type == models.AgentEventToolCallEnd && !ev.Tool.Success {
			sawFailedEnd = true
		}
		if ev.Type == models.AgentEventContent && ev.Text.Text == "Recovered without the tool." {
			sawFinalContent = true
		}
	}
	if !sawFailedEnd {
		t.Error("no failed ToolCallEnd emitted")
	}
	if !sawFinalContent {
		t.Error("loop did not continue after tool failure")
	}
	if runtime.calls != 2 {
		t.Errorf("generation calls = %d, want 2", runtime.calls)
	}
}

func TestMaxToolCallsCap(t *testing.T) {
	// The model always asks for another tool call; the cap must stop it.
	runtime := &scriptedRuntime{responses: []string{
		`<tool_calls><invoke name="loop.tool"><parameter name="x">1</parameter></invoke></tool_calls>`,
	}}
	exec, tools := newTestExecutor(t, runtime)
	exec.cfg.MaxToolCalls = 3
	executions := 0
	tools.Register(&ToolFunc{
		ToolName: "loop.tool",
		Fn: func(context.Context, map[string]any) (string, error) {
			executions++
			return "again", nil
		},
	})

	collect(t, exec.ProcessMessageEvents(context.Background(), "s4", "loop forever"))
	if executions != 3 {
		t.Errorf("tool executions = %d, want cap of 3", executions)
	}
}

func TestThinkingForwarded(t *testing.T) {
	runtime := &scriptedRuntime{responses: []string{"plain answer"}}
	exec, _ := newTestExecutor(t, runtime)
	events := collect(t, exec.ProcessMessageEvents(context.Background(), "s5", "hi"))
	var sawThinking bool
	for _, ev := range events {
		if ev.Type == models.AgentEventThinking && ev.Text.Text == "considering" {
			sawThinking = true
		}
	}
	if !sawThinking {
		t.Error("thinking chunk not forwarded")
	}
}

func TestSessionHistoryRecordsToolMessages(t *testing.T) {
	runtime := &scriptedRuntime{responses: []string{
		`<tool_calls><invoke name="t"><parameter name="a">b</parameter></invoke></tool_calls>`,
		"done",
	}}
	exec, tools := newTestExecutor(t, runtime)
	tools.Register(&ToolFunc{
		ToolName: "t",
		Fn:       func(context.Context, map[string]any) (string, error) { return "result!", nil },
	})

	collect(t, exec.ProcessMessageEvents(context.Background(), "s6", "go"))

	history := exec.sessions.History("s6")
	var toolMsg *models.Message
	for i := range history {
		if history[i].Role == models.RoleTool {
			toolMsg = &history[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in history")
	}
	if toolMsg.ToolCallName != "t" || toolMsg.Content != "result!" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if err := toolMsg.Validate(); err != nil {
		t.Errorf("tool message invalid: %v", err)
	}
}

