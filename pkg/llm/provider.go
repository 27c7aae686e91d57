package llm

import "context"

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message, opts Options) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// RequireKey makes the client refuse to send requests without an API key.
	// Local backends such as Ollama leave it false.
	RequireKey bool
}

// Options tune a single completion call.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// DefaultOptions returns the sampling options used for query parsing.
func DefaultOptions() Options {
	return Options{Temperature: 0.2, MaxTokens: 1000}
}

// SystemPrompt is the system message sent ahead of every user prompt.
const SystemPrompt = "You are a helpful assistant."
