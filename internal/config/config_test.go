package config

import "testing"

func TestNormalizeOllamaEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://localhost:11434", "http://localhost:11434"},
		{"http://localhost:11434/", "http://localhost:11434"},
		{"http://localhost:11434/v1", "http://localhost:11434"},
		{"http://localhost:11434/v1/", "http://localhost:11434"},
		{"  http://host:11434/v1  ", "http://host:11434"},
	}
	for _, tc := range cases {
		if got := NormalizeOllamaEndpoint(tc.in); got != tc.want {
			t.Errorf("NormalizeOllamaEndpoint(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeOpenAIEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://api.openai.com", "https://api.openai.com/v1"},
		{"https://api.openai.com/", "https://api.openai.com/v1"},
		{"https://api.openai.com/v1", "https://api.openai.com/v1"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1"},
	}
	for _, tc := range cases {
		if got := NormalizeOpenAIEndpoint(tc.in); got != tc.want {
			t.Errorf("NormalizeOpenAIEndpoint(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoadClampsContextTokens(t *testing.T) {
	t.Setenv("AGENT_MAX_CONTEXT_TOKENS", "10")
	cfg := Load()
	if cfg.MaxContextTokens != 256 {
		t.Errorf("MaxContextTokens = %d, want clamp to 256", cfg.MaxContextTokens)
	}
}
