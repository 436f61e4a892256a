package models

// BackendType identifies an LLM provider family.
type BackendType string

const (
	BackendOllama    BackendType = "ollama"
	BackendOpenAI    BackendType = "openai"
	BackendAnthropic BackendType = "anthropic"
	BackendGoogle    BackendType = "google"
	BackendXAI       BackendType = "xai"
	BackendCustom    BackendType = "custom"
)

// RequiresAPIKey reports whether the backend type cannot run without a key.
func (t BackendType) RequiresAPIKey() bool {
	switch t {
	case BackendOpenAI, BackendAnthropic, BackendGoogle, BackendXAI:
		return true
	}
	return false
}

// BackendCapabilities describes what a configured backend can do.
type BackendCapabilities struct {
	SupportsStreaming  bool `json:"supports_streaming"`
	SupportsMultimodal bool `json:"supports_multimodal"`
	SupportsThinking   bool `json:"supports_thinking"`
	SupportsTools      bool `json:"supports_tools"`
	MaxContext         int  `json:"max_context"`
}

// LlmBackendInstance is a persisted LLM backend configuration.
// At most one instance is active at any moment; the active pointer lives in
// the instance manager, not on the record.
type LlmBackendInstance struct {
	ID           string              `json:"id"`
	DisplayName  string              `json:"display_name"`
	BackendType  BackendType         `json:"backend_type"`
	Endpoint     string              `json:"endpoint"`
	Model        string              `json:"model"`
	APIKey       string              `json:"api_key,omitempty"`
	Temperature  *float64            `json:"temperature,omitempty"`
	TopP         *float64            `json:"top_p,omitempty"`
	Capabilities BackendCapabilities `json:"capabilities"`
}
