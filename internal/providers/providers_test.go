package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/user/skyq/internal/config"
	"github.com/user/skyq/pkg/llm"
	"github.com/user/skyq/pkg/llm/gemini"
	"github.com/user/skyq/pkg/llm/openai"
)

func TestFromConfig(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		cfg  config.LLMConfig
		want string
	}{
		{"groq", config.LLMConfig{Provider: config.ProviderGroq, GroqAPIKey: "gsk"}, "openai"},
		{"openai", config.LLMConfig{Provider: config.ProviderOpenAI, OpenAIAPIKey: "sk"}, "openai"},
		{"ollama without key", config.LLMConfig{Provider: config.ProviderOllama}, "openai"},
		{"gemini", config.LLMConfig{Provider: config.ProviderGemini, GeminiAPIKey: "g"}, "gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := FromConfig(ctx, tt.cfg)
			if err != nil {
				t.Fatalf("FromConfig: %v", err)
			}
			switch p.(type) {
			case *openai.Client:
				if tt.want != "openai" {
					t.Errorf("got openai client, want %s", tt.want)
				}
			case *gemini.Client:
				if tt.want != "gemini" {
					t.Errorf("got gemini client, want %s", tt.want)
				}
			default:
				t.Errorf("unexpected provider %T", p)
			}
		})
	}
}

func TestFromConfigNotConfigured(t *testing.T) {
	_, err := FromConfig(context.Background(), config.LLMConfig{Provider: config.ProviderGroq})
	if !errors.Is(err, llm.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestFromConfigUnsupported(t *testing.T) {
	_, err := FromConfig(context.Background(), config.LLMConfig{Provider: "anthropic"})
	var ue *UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedError, got %v", err)
	}
	if err.Error() != "Provider 'anthropic' not yet supported" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestModel(t *testing.T) {
	c := config.LLMConfig{Provider: config.ProviderGroq}
	if Model(c) != "llama-3.3-70b-versatile" {
		t.Errorf("expected default groq model, got %q", Model(c))
	}
	c.GroqModel = "mixtral-8x7b-32768"
	if Model(c) != "mixtral-8x7b-32768" {
		t.Errorf("expected configured model, got %q", Model(c))
	}
	if Model(config.LLMConfig{Provider: "x"}) != "" {
		t.Error("unknown provider has no model")
	}
}

func TestListGroqModelsNeedsKey(t *testing.T) {
	if _, err := ListGroqModels(context.Background(), ""); err == nil {
		t.Fatal("expected error without key")
	}
}
