package llm

import (
	"testing"

	"github.com/neotalk/edge-ai/pkg/models"
)

func TestDetectOllamaThinking(t *testing.T) {
	cases := map[string]bool{
		"qwen3:8b":        true,
		"Qwen3-30B":       true,
		"deepseek-r1:7b":  true,
		"llama3-thinking": true,
		"llama3:8b":       false,
		"mistral:7b":      false,
	}
	for name, want := range cases {
		if got := DetectOllamaCapabilities(name).SupportsThinking; got != want {
			t.Errorf("SupportsThinking(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDetectOllamaMultimodal(t *testing.T) {
	cases := map[string]bool{
		"qwen2.5-vl:7b":   true,
		"llama3.2-vision": true,
		"minicpm-mm":      true,
		"mistral:7b":      false,
	}
	for name, want := range cases {
		if got := DetectOllamaCapabilities(name).SupportsMultimodal; got != want {
			t.Errorf("SupportsMultimodal(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDetectOllamaToolExclusions(t *testing.T) {
	for _, name := range []string{"gemma:270m", "gemma-e4b", "qwen:0.5b", "qwen:0.6b", "llama:1b", "nomic-embed-text"} {
		if DetectOllamaCapabilities(name).SupportsTools {
			t.Errorf("%q should not support tools", name)
		}
	}
	if !DetectOllamaCapabilities("llama3:8b").SupportsTools {
		t.Error("llama3:8b should support tools")
	}
}

func TestProviderCapabilityTable(t *testing.T) {
	cases := []struct {
		backend    models.BackendType
		multimodal bool
		tools      bool
		maxContext int
	}{
		{models.BackendOpenAI, true, true, 128000},
		{models.BackendAnthropic, false, false, 200000},
		{models.BackendGoogle, true, false, 1000000},
		{models.BackendXAI, false, false, 128000},
		{models.BackendCustom, false, false, 4096},
	}
	for _, tc := range cases {
		caps := ProviderCapabilities(tc.backend, "any-model")
		if !caps.SupportsStreaming {
			t.Errorf("%s must support streaming", tc.backend)
		}
		if caps.SupportsMultimodal != tc.multimodal {
			t.Errorf("%s multimodal = %v", tc.backend, caps.SupportsMultimodal)
		}
		if caps.SupportsTools != tc.tools {
			t.Errorf("%s tools = %v", tc.backend, caps.SupportsTools)
		}
		if caps.MaxContext != tc.maxContext {
			t.Errorf("%s max context = %d", tc.backend, caps.MaxContext)
		}
	}
}
