// Package actions dispatches rule actions to the platform services.
package actions

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/neotalk/edge-ai/internal/alerts"
	"github.com/neotalk/edge-ai/internal/bus"
	"github.com/neotalk/edge-ai/internal/devices"
	"github.com/neotalk/edge-ai/internal/devices/mapping"
	"github.com/neotalk/edge-ai/internal/rules"
	"github.com/neotalk/edge-ai/internal/workflow"
)

// maxDelay bounds DELAY actions so a rule cannot stall the engine.
const maxDelay = 5 * time.Minute

// Executor implements rules.ActionExecutor against the live services.
type Executor struct {
	devices    *devices.Service
	alerts     *alerts.Manager
	workflows  *workflow.Tracker
	bus        *bus.Bus
	httpClient *http.Client
	logger     *slog.Logger
}

var _ rules.ActionExecutor = (*Executor)(nil)

// Option configures the executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHTTPClient overrides the outbound HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) {
		if client != nil {
			e.httpClient = client
		}
	}
}

// New creates the action executor.
func New(dev *devices.Service, al *alerts.Manager, wf *workflow.Tracker, b *bus.Bus, opts ...Option) *Executor {
	e := &Executor{
		devices:    dev,
		alerts:     al,
		workflows:  wf,
		bus:        b,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default().With("component", "actions"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteAction implements rules.ActionExecutor.
func (e *Executor) ExecuteAction(ctx context.Context, rule *rules.CompiledRule, action rules.Action) error {
	switch action.Type {
	case rules.ActionNotify:
		if e.bus != nil {
			e.bus.Publish(bus.EventRuleTriggered, "rules."+rule.ID, action.Notify.Message)
		}
		return nil

	case rules.ActionExecute:
		params := make(map[string]mapping.MetricValue, len(action.Execute.Params))
		for key, value := range action.Execute.Params {
			params[key] = toMetricValue(value)
		}
		return e.devices.SendCommand(ctx, action.Execute.DeviceID, action.Execute.Command, params, "")

	case rules.ActionLog:
		e.logRule(rule, action.Log)
		return nil

	case rules.ActionSet:
		params := map[string]mapping.MetricValue{
			action.Set.Property: toMetricValue(action.Set.Value),
		}
		return e.devices.SendCommand(ctx, action.Set.DeviceID, "set_"+action.Set.Property, params, "")

	case rules.ActionDelay:
		d := action.Delay.Duration
		if d > maxDelay {
			d = maxDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}

	case rules.ActionTriggerWorkflow:
		if e.workflows == nil {
			return fmt.Errorf("workflow tracker unavailable")
		}
		if e.bus != nil {
			e.bus.Publish(bus.EventWorkflowUpdate, "rules."+rule.ID, action.TriggerWorkflow.WorkflowID)
		}
		return nil

	case rules.ActionCreateAlert:
		if e.alerts == nil {
			return fmt.Errorf("alert manager unavailable")
		}
		_, err := e.alerts.Create(ctx, action.CreateAlert.Message,
			alerts.Severity(action.CreateAlert.Severity), "rule:"+rule.Name)
		return err

	case rules.ActionHTTPRequest:
		req, err := http.NewRequestWithContext(ctx, action.HTTPRequest.Method,
			action.HTTPRequest.URL, bytes.NewReader([]byte(action.HTTPRequest.Body)))
		if err != nil {
			return err
		}
		if action.HTTPRequest.Body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := e.httpClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("http action returned %d", resp.StatusCode)
		}
		return nil
	}
	return fmt.Errorf("unknown action type %q", action.Type)
}

func (e *Executor) logRule(rule *rules.CompiledRule, action *rules.LogAction) {
	attrs := []any{"rule", rule.Name}
	if action.Severity != "" {
		attrs = append(attrs, "severity", action.Severity)
	}
	switch action.Level {
	case rules.LogError, rules.LogAlert:
		e.logger.Error(action.Message, attrs...)
	case rules.LogWarning:
		e.logger.Warn(action.Message, attrs...)
	default:
		e.logger.Info(action.Message, attrs...)
	}
}

func toMetricValue(v any) mapping.MetricValue {
	switch value := v.(type) {
	case string:
		return mapping.StringValue(value)
	case bool:
		return mapping.BoolValue(value)
	case int64:
		return mapping.IntValue(value)
	case float64:
		if value == float64(int64(value)) {
			return mapping.IntValue(int64(value))
		}
		return mapping.FloatValue(value)
	}
	return mapping.NullValue()
}
