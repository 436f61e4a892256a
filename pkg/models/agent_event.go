package models

import "time"

// AgentEventType identifies the kind of agent event.
type AgentEventType string

const (
	AgentEventThinking      AgentEventType = "thinking"
	AgentEventContent       AgentEventType = "content"
	AgentEventToolCallStart AgentEventType = "tool_call_start"
	AgentEventToolCallEnd   AgentEventType = "tool_call_end"
	AgentEventError         AgentEventType = "error"
	AgentEventWarning       AgentEventType = "warning"
	AgentEventEnd           AgentEventType = "end"
	AgentEventIntent        AgentEventType = "intent"
	AgentEventPlan          AgentEventType = "plan"
	AgentEventHeartbeat     AgentEventType = "heartbeat"
	AgentEventProgress      AgentEventType = "progress"
)

// AgentEvent is the unified event model for the agent streaming pipeline.
// A single Type discriminator selects which optional payload pointer is set.
//
// Timestamps are seconds since epoch; ElapsedMs on tool payloads is
// milliseconds. The stream for one request is monotonic: a terminal "end"
// event is emitted exactly once and nothing follows it.
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Sequence  uint64         `json:"seq"`

	// Exactly one payload should be non-nil for a given Type.
	Text     *TextPayload     `json:"text,omitempty"`
	Tool     *ToolPayload     `json:"tool,omitempty"`
	Error    *ErrorPayload    `json:"error,omitempty"`
	Progress *ProgressPayload `json:"progress,omitempty"`
}

// TextPayload carries thinking, content, intent, and plan text.
type TextPayload struct {
	Text string `json:"text"`
}

// ToolPayload describes a tool call lifecycle event.
type ToolPayload struct {
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name"`
	ArgsJSON  []byte `json:"args_json,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Result    string `json:"result,omitempty"`
	ElapsedMs int64  `json:"elapsedMs,omitempty"`
}

// ErrorPayload standardizes errors for streaming clients.
type ErrorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ProgressPayload reports executor pipeline stages.
type ProgressPayload struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail,omitempty"`
}

// NewAgentEvent builds an event stamped with the current time.
func NewAgentEvent(t AgentEventType, sessionID string) AgentEvent {
	return AgentEvent{
		Type:      t,
		SessionID: sessionID,
		Timestamp: time.Now().Unix(),
	}
}
