// Package providers builds the LLM provider selected in the configuration.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/skyq/internal/config"
	"github.com/user/skyq/pkg/llm"
	"github.com/user/skyq/pkg/llm/gemini"
	"github.com/user/skyq/pkg/llm/openai"
)

// DefaultModels is used when no model is configured for a provider.
var DefaultModels = map[string]string{
	config.ProviderGroq:   "llama-3.3-70b-versatile",
	config.ProviderOpenAI: "gpt-4o-mini",
	config.ProviderGemini: "gemini-2.0-flash",
	config.ProviderOllama: "llama3.2",
}

// UnsupportedError reports a provider name skyq has no client for.
type UnsupportedError struct {
	Provider string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("Provider '%s' not yet supported", e.Provider)
}

// Model returns the model that will be used for the active provider.
func Model(c config.LLMConfig) string {
	if m := c.ActiveModel(); m != "" {
		return m
	}
	return DefaultModels[c.Provider]
}

// FromConfig returns a provider for c.Provider. It fails with
// llm.ErrNotConfigured when the provider's API key is missing and with
// *UnsupportedError for unknown providers.
func FromConfig(ctx context.Context, c config.LLMConfig) (llm.Provider, error) {
	if _, ok := DefaultModels[c.Provider]; !ok {
		return nil, &UnsupportedError{Provider: c.Provider}
	}
	if !c.IsConfigured() {
		return nil, llm.ErrNotConfigured
	}
	model := Model(c)

	switch c.Provider {
	case config.ProviderGroq:
		return openai.New(&llm.Config{BaseURL: openai.GroqBaseURL, APIKey: c.GroqAPIKey, Model: model, RequireKey: true}), nil
	case config.ProviderOpenAI:
		return openai.New(&llm.Config{BaseURL: openai.OpenAIBaseURL, APIKey: c.OpenAIAPIKey, Model: model, RequireKey: true}), nil
	case config.ProviderOllama:
		base := strings.TrimRight(c.OllamaBaseURL, "/")
		if base == "" {
			base = config.DefaultOllamaBaseURL
		}
		return openai.New(&llm.Config{BaseURL: base + "/v1", Model: model}), nil
	default:
		client, err := gemini.New(ctx, &llm.Config{APIKey: c.GeminiAPIKey, Model: model})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// ListGroqModels returns the model ids available to apiKey, sorted.
func ListGroqModels(ctx context.Context, apiKey string) ([]string, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("No Groq API key configured")
	}
	client := openai.New(&llm.Config{BaseURL: openai.GroqBaseURL, APIKey: apiKey, RequireKey: true})
	return client.ListModels(ctx)
}
