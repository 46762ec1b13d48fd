package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// DefaultStateDirName is the per-project state directory under the workspace root.
const DefaultStateDirName = ".agentsmithy"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8765,
			RateLimitRPM: 60,
		},
		Project: ProjectConfig{
			StateDirName: DefaultStateDirName,
		},
		Agent: AgentConfig{
			Provider:             "anthropic",
			Model:                "claude-sonnet-4-5-20250929",
			MaxTokens:            8192,
			Temperature:          0.7,
			MaxConsecutiveErrors: 10,
		},
		Summarization: SummarizationConfig{
			TriggerTokenBudget: 120000,
			KeepLastMessages:   24,
		},
		RAG: RAGConfig{
			Enabled:        true,
			EmbeddingModel: "text-embedding-3-small",
			MaxResults:     6,
		},
		Tools: ToolsConfig{
			RestrictToWorkspace: true,
			Web: WebToolsConfig{
				SearchEnabled: true,
				MaxResults:    5,
			},
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("AGENTSMITHY_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("AGENTSMITHY_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("AGENTSMITHY_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("AGENTSMITHY_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("AGENTSMITHY_TOKEN", &c.Server.Token)
	envStr("AGENTSMITHY_BRAVE_API_KEY", &c.Tools.Web.BraveAPIKey)
	envStr("AGENTSMITHY_EMBEDDING_API_KEY", &c.RAG.EmbeddingAPIKey)

	envStr("AGENTSMITHY_PROVIDER", &c.Agent.Provider)
	envStr("AGENTSMITHY_MODEL", &c.Agent.Model)
	envStr("AGENTSMITHY_PROJECT_ROOT", &c.Project.Root)

	envStr("AGENTSMITHY_HOST", &c.Server.Host)
	if v := os.Getenv("AGENTSMITHY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}

	envStr("AGENTSMITHY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("AGENTSMITHY_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}

	// Embedding key falls back to the OpenAI key.
	if c.RAG.EmbeddingAPIKey == "" {
		c.RAG.EmbeddingAPIKey = c.Providers.OpenAI.APIKey
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Called by the watcher after a hot reload so runtime secrets survive.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Validate returns human-readable problems with the config. An empty slice
// means the config is usable.
func (c *Config) Validate() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Agent.Provider {
	case "anthropic":
		if c.Providers.Anthropic.APIKey == "" {
			errs = append(errs, "providers.anthropic: missing API key (AGENTSMITHY_ANTHROPIC_API_KEY)")
		}
	case "openai":
		if c.Providers.OpenAI.APIKey == "" {
			errs = append(errs, "providers.openai: missing API key (AGENTSMITHY_OPENAI_API_KEY)")
		}
	case "openrouter":
		if c.Providers.OpenRouter.APIKey == "" {
			errs = append(errs, "providers.openrouter: missing API key (AGENTSMITHY_OPENROUTER_API_KEY)")
		}
	case "deepseek":
		if c.Providers.DeepSeek.APIKey == "" {
			errs = append(errs, "providers.deepseek: missing API key (AGENTSMITHY_DEEPSEEK_API_KEY)")
		}
	case "":
		errs = append(errs, "agent.provider is empty")
	default:
		errs = append(errs, fmt.Sprintf("agent.provider unknown: %q", c.Agent.Provider))
	}
	if c.Agent.Model == "" {
		errs = append(errs, "agent.model is empty")
	}
	if c.Summarization.KeepLastMessages <= 0 {
		errs = append(errs, "summarization.keep_last_messages must be positive")
	}
	return errs
}

// ProjectRoot returns the absolute workspace root, defaulting to the working
// directory when unset.
func (c *Config) ProjectRoot() string {
	c.mu.RLock()
	root := c.Project.Root
	c.mu.RUnlock()

	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return wd
	}
	root = ExpandHome(root)
	abs, err := filepath.Abs(root)
	if err != nil {
		return root
	}
	return abs
}

// StateDir returns the project's state directory path.
func (c *Config) StateDir() string {
	c.mu.RLock()
	name := c.Project.StateDirName
	c.mu.RUnlock()
	if name == "" {
		name = DefaultStateDirName
	}
	return filepath.Join(c.ProjectRoot(), name)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
