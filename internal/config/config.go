package config

import (
	"encoding/json"
	"sync"
)

// Config is the root configuration for the AgentSmithy server.
type Config struct {
	Server        ServerConfig        `json:"server"`
	Project       ProjectConfig       `json:"project"`
	Providers     ProvidersConfig     `json:"providers"`
	Agent         AgentConfig         `json:"agent"`
	Summarization SummarizationConfig `json:"summarization,omitempty"`
	RAG           RAGConfig           `json:"rag,omitempty"`
	Tools         ToolsConfig         `json:"tools,omitempty"`
	Telemetry     TelemetryConfig     `json:"telemetry,omitempty"`
	mu            sync.RWMutex
}

// ServerConfig configures the HTTP/SSE listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Token        string `json:"-"` // from env AGENTSMITHY_TOKEN only
	RateLimitRPM int    `json:"rate_limit_rpm"`
}

// ProjectConfig locates the user workspace and the server's state directory.
type ProjectConfig struct {
	Root string `json:"root"` // user workspace; defaults to the working directory
	// StateDirName is the per-project state directory created under Root.
	StateDirName string `json:"state_dir_name,omitempty"`
}

// ProvidersConfig holds per-provider credentials and endpoints.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic,omitempty"`
	OpenAI     ProviderConfig `json:"openai,omitempty"`
	OpenRouter ProviderConfig `json:"openrouter,omitempty"`
	DeepSeek   ProviderConfig `json:"deepseek,omitempty"`
}

// ProviderConfig is one provider's connection settings.
type ProviderConfig struct {
	APIKey  string `json:"-"` // env only, never persisted
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// AgentConfig holds the defaults for the agent loop.
type AgentConfig struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	// MaxConsecutiveErrors caps the recoverable-error streak before the loop
	// terminates the stream. Iterations themselves are unbounded.
	MaxConsecutiveErrors int `json:"max_consecutive_errors,omitempty"`
}

// SummarizationConfig controls history compaction.
type SummarizationConfig struct {
	TriggerTokenBudget int `json:"trigger_token_budget"`
	KeepLastMessages   int `json:"keep_last_messages"`
}

// RAGConfig configures workspace indexing for retrieval.
type RAGConfig struct {
	Enabled           bool   `json:"enabled"`
	EmbeddingProvider string `json:"embedding_provider,omitempty"` // "openai" (default)
	EmbeddingModel    string `json:"embedding_model,omitempty"`
	EmbeddingAPIKey   string `json:"-"` // env only
	MaxResults        int    `json:"max_results,omitempty"`
}

// ToolsConfig configures the builtin tool set.
type ToolsConfig struct {
	RestrictToWorkspace bool            `json:"restrict_to_workspace"`
	Web                 WebToolsConfig  `json:"web,omitempty"`
	FileRestrictions    []string        `json:"file_restrictions,omitempty"` // glob patterns tools may not touch
}

// WebToolsConfig configures web_search / web_fetch.
type WebToolsConfig struct {
	SearchEnabled bool   `json:"search_enabled"`
	MaxResults    int    `json:"max_results,omitempty"`
	BraveAPIKey   string `json:"-"` // env only; falls back to DuckDuckGo when empty
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // e.g. "localhost:4318"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the config watcher on hot reload.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = src.Server
	c.Project = src.Project
	c.Providers = src.Providers
	c.Agent = src.Agent
	c.Summarization = src.Summarization
	c.RAG = src.RAG
	c.Tools = src.Tools
	c.Telemetry = src.Telemetry
}

// Snapshot returns a copy of the data fields safe to read without the lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Server:        c.Server,
		Project:       c.Project,
		Providers:     c.Providers,
		Agent:         c.Agent,
		Summarization: c.Summarization,
		RAG:           c.RAG,
		Tools:         c.Tools,
		Telemetry:     c.Telemetry,
	}
}

const secretMask = "***"

// MaskedCopy returns a deep copy with all secret fields masked.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Server.Token)
	maskNonEmpty(&cp.Providers.Anthropic.APIKey)
	maskNonEmpty(&cp.Providers.OpenAI.APIKey)
	maskNonEmpty(&cp.Providers.OpenRouter.APIKey)
	maskNonEmpty(&cp.Providers.DeepSeek.APIKey)
	maskNonEmpty(&cp.RAG.EmbeddingAPIKey)
	maskNonEmpty(&cp.Tools.Web.BraveAPIKey)

	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}
