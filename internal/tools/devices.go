// Package tools provides the built-in tool set exposed to agents.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neotalk/edge-ai/internal/agent"
	"github.com/neotalk/edge-ai/internal/devices"
	"github.com/neotalk/edge-ai/internal/devices/mapping"
)

// RegisterDeviceTools adds device.query and device.command.
func RegisterDeviceTools(registry *agent.ToolRegistry, svc *devices.Service) {
	registry.Register(&agent.ToolFunc{
		ToolName:        "device.query",
		ToolDescription: "Query a device's latest metric values. Omit device_id to list all devices.",
		ToolParameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"device_id": {"type": "string"},
				"metric": {"type": "string"}
			}
		}`),
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			deviceID, _ := args["device_id"].(string)
			if deviceID == "" {
				out := make([]map[string]any, 0)
				for _, dev := range svc.ListDevices() {
					out = append(out, map[string]any{
						"id": dev.ID, "type": dev.Type, "location": dev.Location,
					})
				}
				data, err := json.Marshal(out)
				return string(data), err
			}

			dev, ok := svc.Device(deviceID)
			if !ok {
				return "", fmt.Errorf("unknown device %q", deviceID)
			}
			result := map[string]any{"id": dev.ID, "type": dev.Type}
			if metric, _ := args["metric"].(string); metric != "" {
				if value, ok := svc.LatestValue(deviceID, metric); ok {
					result[metric] = value
				} else {
					result[metric] = nil
				}
			} else {
				for _, cap := range dev.Capabilities {
					if value, ok := svc.LatestValue(deviceID, cap.Name); ok {
						result[cap.Name] = value
					}
				}
			}
			data, err := json.Marshal(result)
			return string(data), err
		},
	})

	registry.Register(&agent.ToolFunc{
		ToolName:        "device.command",
		ToolDescription: "Send a command to a device with optional parameters.",
		ToolParameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"device_id": {"type": "string"},
				"command": {"type": "string"},
				"params": {"type": "object"}
			},
			"required": ["device_id", "command"]
		}`),
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			deviceID, _ := args["device_id"].(string)
			command, _ := args["command"].(string)
			if deviceID == "" || command == "" {
				return "", fmt.Errorf("device_id and command are required")
			}
			params := make(map[string]mapping.MetricValue)
			if raw, ok := args["params"].(map[string]any); ok {
				for key, value := range raw {
					params[key] = toMetricValue(value)
				}
			}
			if err := svc.SendCommand(ctx, deviceID, command, params, ""); err != nil {
				return "", err
			}
			return fmt.Sprintf("command %q sent to %s", command, deviceID), nil
		},
	})
}

func toMetricValue(v any) mapping.MetricValue {
	switch value := v.(type) {
	case string:
		return mapping.StringValue(value)
	case bool:
		return mapping.BoolValue(value)
	case float64:
		if value == float64(int64(value)) {
			return mapping.IntValue(int64(value))
		}
		return mapping.FloatValue(value)
	case int64:
		return mapping.IntValue(value)
	}
	return mapping.NullValue()
}
