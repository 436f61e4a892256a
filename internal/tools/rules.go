package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neotalk/edge-ai/internal/agent"
	"github.com/neotalk/edge-ai/internal/rules"
)

// RegisterRuleTools adds rules.create and rules.list.
func RegisterRuleTools(registry *agent.ToolRegistry, engine *rules.Engine) {
	registry.Register(&agent.ToolFunc{
		ToolName:        "rules.create",
		ToolDescription: "Create an automation rule from DSL text (RULE/WHEN/DO/END).",
		ToolParameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"dsl": {"type": "string"}
			},
			"required": ["dsl"]
		}`),
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			dsl, _ := args["dsl"].(string)
			if dsl == "" {
				return "", fmt.Errorf("dsl is required")
			}
			id, err := engine.AddRuleFromDSL(dsl)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("rule created with id %s", id), nil
		},
	})

	registry.Register(&agent.ToolFunc{
		ToolName:        "rules.list",
		ToolDescription: "List automation rules with their status and trigger counts.",
		ToolParameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		Fn: func(context.Context, map[string]any) (string, error) {
			out := make([]map[string]any, 0)
			for _, rule := range engine.ListRules() {
				out = append(out, map[string]any{
					"id":            rule.ID,
					"name":          rule.Name,
					"status":        rule.Status,
					"trigger_count": rule.State.TriggerCount,
				})
			}
			data, err := json.Marshal(out)
			return string(data), err
		},
	})
}
