package llm

import "github.com/neotalk/edge-ai/pkg/models"

// BackendTypeDefinition is static metadata describing one backend type so
// a client can render a configuration form.
type BackendTypeDefinition struct {
	Type            models.BackendType `json:"type"`
	DisplayName     string             `json:"display_name"`
	RequiresAPIKey  bool               `json:"requires_api_key"`
	DefaultEndpoint string             `json:"default_endpoint"`
	DefaultModel    string             `json:"default_model"`
}

var backendTypes = []BackendTypeDefinition{
	{
		Type:            models.BackendOllama,
		DisplayName:     "Ollama",
		DefaultEndpoint: "http://localhost:11434",
		DefaultModel:    "qwen3:8b",
	},
	{
		Type:            models.BackendOpenAI,
		DisplayName:     "OpenAI",
		RequiresAPIKey:  true,
		DefaultEndpoint: "https://api.openai.com/v1",
		DefaultModel:    "gpt-4o",
	},
	{
		Type:            models.BackendAnthropic,
		DisplayName:     "Anthropic",
		RequiresAPIKey:  true,
		DefaultEndpoint: "https://api.anthropic.com",
		DefaultModel:    "claude-sonnet-4-20250514",
	},
	{
		Type:            models.BackendGoogle,
		DisplayName:     "Google",
		RequiresAPIKey:  true,
		DefaultModel:    "gemini-2.0-flash",
	},
	{
		Type:            models.BackendXAI,
		DisplayName:     "xAI",
		RequiresAPIKey:  true,
		DefaultEndpoint: "https://api.x.ai/v1",
		DefaultModel:    "grok-3",
	},
	{
		Type:        models.BackendCustom,
		DisplayName: "Custom (OpenAI-compatible)",
	},
}

// AvailableTypes returns the configurable backend types.
func (m *InstanceManager) AvailableTypes() []BackendTypeDefinition {
	out := make([]BackendTypeDefinition, len(backendTypes))
	copy(out, backendTypes)
	return out
}

// ConfigSchema returns a JSON-schema-shaped description of the fields a
// backend type requires.
func (m *InstanceManager) ConfigSchema(backendType models.BackendType) map[string]any {
	var def *BackendTypeDefinition
	for i := range backendTypes {
		if backendTypes[i].Type == backendType {
			def = &backendTypes[i]
			break
		}
	}
	if def == nil {
		return nil
	}

	properties := map[string]any{
		"display_name": map[string]any{"type": "string"},
		"endpoint": map[string]any{
			"type":    "string",
			"format":  "uri",
			"default": def.DefaultEndpoint,
		},
		"model": map[string]any{
			"type":    "string",
			"default": def.DefaultModel,
		},
		"temperature": map[string]any{
			"type":    "number",
			"minimum": 0,
			"maximum": 2,
		},
		"top_p": map[string]any{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
	}
	required := []string{"display_name", "model"}
	if def.RequiresAPIKey {
		properties["api_key"] = map[string]any{"type": "string", "writeOnly": true}
		required = append(required, "api_key")
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
