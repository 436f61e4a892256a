package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ActionType discriminates Action variants.
type ActionType string

const (
	ActionNotify          ActionType = "notify"
	ActionExecute         ActionType = "execute"
	ActionLog             ActionType = "log"
	ActionSet             ActionType = "set"
	ActionDelay           ActionType = "delay"
	ActionTriggerWorkflow ActionType = "trigger_workflow"
	ActionCreateAlert     ActionType = "create_alert"
	ActionHTTPRequest     ActionType = "http_request"
)

// LogLevel is the level of a LOG action.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
	LogAlert   LogLevel = "alert"
)

// NotifyAction sends a notification message.
type NotifyAction struct {
	Message string `json:"message"`
}

// ExecuteAction dispatches a device command.
type ExecuteAction struct {
	DeviceID string         `json:"device_id"`
	Command  string         `json:"command"`
	Params   map[string]any `json:"params,omitempty"`
}

// LogAction writes a log entry.
type LogAction struct {
	Level    LogLevel `json:"level"`
	Message  string   `json:"message"`
	Severity string   `json:"severity,omitempty"`
}

// SetAction writes a device property.
type SetAction struct {
	DeviceID string `json:"device_id"`
	Property string `json:"property"`
	Value    any    `json:"value"`
}

// DelayAction pauses action execution.
type DelayAction struct {
	Duration time.Duration `json:"duration"`
}

// TriggerWorkflowAction starts a workflow.
type TriggerWorkflowAction struct {
	WorkflowID string `json:"workflow_id"`
}

// CreateAlertAction raises a platform alert.
type CreateAlertAction struct {
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

// HTTPRequestAction issues an outbound HTTP request.
type HTTPRequestAction struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Body   string `json:"body,omitempty"`
}

// Action is one rule action. Type selects which payload is set.
type Action struct {
	Type            ActionType             `json:"type"`
	Notify          *NotifyAction          `json:"notify,omitempty"`
	Execute         *ExecuteAction         `json:"execute,omitempty"`
	Log             *LogAction             `json:"log,omitempty"`
	Set             *SetAction             `json:"set,omitempty"`
	Delay           *DelayAction           `json:"delay,omitempty"`
	TriggerWorkflow *TriggerWorkflowAction `json:"trigger_workflow,omitempty"`
	CreateAlert     *CreateAlertAction     `json:"create_alert,omitempty"`
	HTTPRequest     *HTTPRequestAction     `json:"http_request,omitempty"`
}

// Render produces the canonical DSL line for the action.
func (a Action) Render() string {
	switch a.Type {
	case ActionNotify:
		return fmt.Sprintf("NOTIFY %q", a.Notify.Message)
	case ActionExecute:
		return fmt.Sprintf("EXECUTE %s.%s(%s)", a.Execute.DeviceID, a.Execute.Command, renderParams(a.Execute.Params))
	case ActionLog:
		if a.Log.Severity != "" {
			return fmt.Sprintf("LOG %s, severity=%q", a.Log.Level, a.Log.Severity)
		}
		return fmt.Sprintf("LOG %s", a.Log.Level)
	case ActionSet:
		return fmt.Sprintf("SET %s.%s=%s", a.Set.DeviceID, a.Set.Property, renderValue(a.Set.Value))
	case ActionDelay:
		return fmt.Sprintf("DELAY %d seconds", int(a.Delay.Duration/time.Second))
	case ActionTriggerWorkflow:
		return fmt.Sprintf("TRIGGER_WORKFLOW %s", a.TriggerWorkflow.WorkflowID)
	case ActionCreateAlert:
		if a.CreateAlert.Severity != "" {
			return fmt.Sprintf("CREATE_ALERT %q, severity=%q", a.CreateAlert.Message, a.CreateAlert.Severity)
		}
		return fmt.Sprintf("CREATE_ALERT %q", a.CreateAlert.Message)
	case ActionHTTPRequest:
		return fmt.Sprintf("HTTP %s %s", a.HTTPRequest.Method, a.HTTPRequest.URL)
	}
	return ""
}

func renderParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+renderValue(params[k]))
	}
	return strings.Join(parts, ", ")
}

func renderValue(v any) string {
	switch value := v.(type) {
	case string:
		return fmt.Sprintf("%q", value)
	case bool:
		return fmt.Sprintf("%t", value)
	case int:
		return fmt.Sprintf("%d", value)
	case int64:
		return fmt.Sprintf("%d", value)
	case float64:
		return fmt.Sprintf("%g", value)
	}
	return fmt.Sprintf("%v", v)
}
