package provider

import "fmt"

const (
	APIOpenAI    = "openai-completions"
	APIAnthropic = "anthropic-messages"
)

// ProviderConfig mirrors the config file's provider entry to avoid a
// dependency on the config package. Models carry only the operator-facing
// fields; FromConfig stamps the provider id and feature flags.
type ProviderConfig struct {
	ID      string
	BaseURL string
	APIKey  string
	API     string
	Models  []ModelSpec
}

// ModelSpec is one model entry as the operator writes it.
type ModelSpec struct {
	ID            string
	Name          string
	ContextWindow int
	MaxTokens     int
}

// FromConfig creates a Provider from a config entry. The api field
// determines which wire format to use:
//   - "openai-completions"  -> OpenAI-compatible (OpenAI, OVH, Ollama, vLLM, etc.)
//   - "anthropic-messages"  -> Anthropic Messages API
//
// Both wire clients speak native tool calling, so every configured model
// advertises that feature.
func FromConfig(cfg ProviderConfig) (Provider, error) {
	models := make([]ModelInfo, len(cfg.Models))
	for i, m := range cfg.Models {
		models[i] = ModelInfo{
			ID:            m.ID,
			Name:          m.Name,
			ProviderID:    cfg.ID,
			ContextWindow: m.ContextWindow,
			MaxTokens:     m.MaxTokens,
			Features:      []Feature{FeatureTools},
		}
	}
	switch cfg.API {
	case APIOpenAI, "":
		return NewOpenAIProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, models), nil
	case APIAnthropic:
		return NewAnthropicProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, models), nil
	default:
		return nil, fmt.Errorf("unknown api type %q for provider %q (supported: %s, %s)",
			cfg.API, cfg.ID, APIOpenAI, APIAnthropic)
	}
}
