package providers

import (
	"fmt"

	"github.com/agentsmithy/agentsmithy/internal/config"
)

// FromConfig builds the client for the named provider. The name matches
// the agent.provider config key.
func FromConfig(name string, cfg config.ProvidersConfig) (Client, error) {
	switch name {
	case "anthropic":
		pc := cfg.Anthropic
		if pc.APIKey == "" {
			return nil, fmt.Errorf("provider %q: API key is not configured", name)
		}
		return NewAnthropicClient(pc.APIKey, pc.APIBase, pc.Model), nil

	case "openai":
		pc := cfg.OpenAI
		if pc.APIKey == "" {
			return nil, fmt.Errorf("provider %q: API key is not configured", name)
		}
		return NewOpenAIClient(name, pc.APIKey, pc.APIBase, pc.Model), nil

	case "openrouter":
		pc := cfg.OpenRouter
		if pc.APIKey == "" {
			return nil, fmt.Errorf("provider %q: API key is not configured", name)
		}
		base := pc.APIBase
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		return NewOpenAIClient(name, pc.APIKey, base, pc.Model), nil

	case "deepseek":
		pc := cfg.DeepSeek
		if pc.APIKey == "" {
			return nil, fmt.Errorf("provider %q: API key is not configured", name)
		}
		base := pc.APIBase
		if base == "" {
			base = "https://api.deepseek.com/v1"
		}
		return NewOpenAIClient(name, pc.APIKey, base, pc.Model), nil
	}

	return nil, fmt.Errorf("unknown provider %q", name)
}
