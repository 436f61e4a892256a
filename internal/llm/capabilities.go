package llm

import (
	"strings"

	"github.com/neotalk/edge-ai/pkg/models"
)

// DetectOllamaCapabilities infers capabilities from an Ollama model name.
// Local models vary too much to declare statically, so the name carries
// the signal: reasoning tags mark thinking models, vision tags mark
// multimodal ones, and tiny or embedding models cannot drive tools.
func DetectOllamaCapabilities(modelName string) models.BackendCapabilities {
	name := strings.ToLower(modelName)

	thinking := strings.Contains(name, "thinking") ||
		strings.Contains(name, "deepseek-r1") ||
		strings.HasPrefix(name, "qwen3")

	multimodal := strings.Contains(name, "vl") ||
		strings.Contains(name, "vision") ||
		strings.Contains(name, "mm")

	tools := true
	for _, marker := range []string{"270m", "e4b", "0.5b", "0.6b", "1b", "embed-text"} {
		if strings.Contains(name, marker) {
			tools = false
			break
		}
	}

	return models.BackendCapabilities{
		SupportsStreaming:  true,
		SupportsMultimodal: multimodal,
		SupportsThinking:   thinking,
		SupportsTools:      tools,
		MaxContext:         32768,
	}
}

// ProviderCapabilities returns the declared capabilities for cloud
// providers; Ollama instances use name-based detection instead.
func ProviderCapabilities(backendType models.BackendType, modelName string) models.BackendCapabilities {
	switch backendType {
	case models.BackendOllama:
		return DetectOllamaCapabilities(modelName)
	case models.BackendOpenAI:
		return models.BackendCapabilities{
			SupportsStreaming:  true,
			SupportsMultimodal: true,
			SupportsTools:      true,
			MaxContext:         128000,
		}
	case models.BackendAnthropic:
		return models.BackendCapabilities{
			SupportsStreaming: true,
			MaxContext:        200000,
		}
	case models.BackendGoogle:
		return models.BackendCapabilities{
			SupportsStreaming:  true,
			SupportsMultimodal: true,
			MaxContext:         1000000,
		}
	case models.BackendXAI:
		return models.BackendCapabilities{
			SupportsStreaming: true,
			MaxContext:        128000,
		}
	default:
		return models.BackendCapabilities{
			SupportsStreaming: true,
			MaxContext:        4096,
		}
	}
}
