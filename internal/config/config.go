// Package config loads platform configuration from the environment.
//
// Configuration is read once at construction; components receive a Config
// value and never consult the environment afterwards.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultOllamaEndpoint   = "http://localhost:11434"
	DefaultOpenAIEndpoint   = "https://api.openai.com/v1"
	DefaultModel            = "qwen3:8b"
	DefaultProvider         = "ollama"
	DefaultMaxContextTokens = 8192
	DefaultTemperature      = 0.7
	DefaultTopP             = 0.9
	DefaultMaxTokens        = 4096
	DefaultConcurrentLimit  = 4
	DefaultSelectorTokens   = 1024
	DefaultLLMTimeout       = 180 * time.Second
	DefaultTokenExpiry      = 7 * 24 * time.Hour
)

// Config is the process-wide configuration snapshot.
type Config struct {
	OllamaEndpoint string
	OpenAIEndpoint string
	OpenAIAPIKey   string
	Model          string
	Provider       string

	JWTSecret   string
	TokenExpiry time.Duration
	LogJSON     bool

	MaxContextTokens      int
	Temperature           float64
	TopP                  float64
	MaxTokens             int
	ConcurrentLimit       int
	ContextSelectorTokens int
	LLMTimeout            time.Duration
}

// Load reads configuration from the environment.
func Load() *Config {
	cfg := &Config{
		OllamaEndpoint:        NormalizeOllamaEndpoint(envOr("OLLAMA_ENDPOINT", DefaultOllamaEndpoint)),
		OpenAIEndpoint:        NormalizeOpenAIEndpoint(envOr("OPENAI_ENDPOINT", DefaultOpenAIEndpoint)),
		OpenAIAPIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		Model:                 envOr("LLM_MODEL", DefaultModel),
		Provider:              envOr("LLM_PROVIDER", DefaultProvider),
		JWTSecret:             strings.TrimSpace(os.Getenv("NEOTALK_JWT_SECRET")),
		TokenExpiry:           DefaultTokenExpiry,
		LogJSON:               envBool("NEOTALK_LOG_JSON"),
		MaxContextTokens:      envInt("AGENT_MAX_CONTEXT_TOKENS", DefaultMaxContextTokens),
		Temperature:           envFloat("AGENT_TEMPERATURE", DefaultTemperature),
		TopP:                  envFloat("AGENT_TOP_P", DefaultTopP),
		MaxTokens:             envInt("AGENT_MAX_TOKENS", DefaultMaxTokens),
		ConcurrentLimit:       envInt("AGENT_CONCURRENT_LIMIT", DefaultConcurrentLimit),
		ContextSelectorTokens: envInt("AGENT_CONTEXT_SELECTOR_TOKENS", DefaultSelectorTokens),
		LLMTimeout:            DefaultLLMTimeout,
	}
	if secs := envInt("AGENT_LLM_TIMEOUT_SECS", 0); secs > 0 {
		cfg.LLMTimeout = time.Duration(secs) * time.Second
	}
	if cfg.MaxContextTokens < 256 {
		cfg.MaxContextTokens = 256
	}
	return cfg
}

// Logger builds the root logger according to NEOTALK_LOG_JSON.
func (c *Config) Logger() *slog.Logger {
	if c.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// NormalizeOllamaEndpoint strips a trailing /v1 and trailing slashes so the
// native Ollama API paths can be appended.
func NormalizeOllamaEndpoint(endpoint string) string {
	e := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	e = strings.TrimSuffix(e, "/v1")
	return strings.TrimRight(e, "/")
}

// NormalizeOpenAIEndpoint ensures the endpoint ends with exactly /v1.
func NormalizeOpenAIEndpoint(endpoint string) string {
	e := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if e == "" {
		return e
	}
	if !strings.HasSuffix(e, "/v1") {
		e += "/v1"
	}
	return e
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
