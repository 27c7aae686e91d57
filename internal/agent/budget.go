package agent

import (
	"errors"
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/skyq/pkg/llm"
)

// ErrPromptTooLong is returned when a prompt plus the output reserve does not
// fit the model's context window.
var ErrPromptTooLong = errors.New("prompt exceeds context window")

// TokenBudget counts prompt tokens against a context window.
type TokenBudget struct {
	tokenizer *tiktoken.Tiktoken
	window    int
}

// NewTokenBudget creates a budget for model with the given context window.
// Unknown models fall back to cl100k_base.
func NewTokenBudget(model string, window int) (*TokenBudget, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &TokenBudget{tokenizer: enc, window: window}, nil
}

// Count returns the token count for a string.
func (b *TokenBudget) Count(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Check verifies messages plus reserve output tokens fit the window.
func (b *TokenBudget) Check(messages []llm.Message, reserve int) error {
	total := reserve
	for _, m := range messages {
		total += b.Count(m.Content)
	}
	if total > b.window {
		return fmt.Errorf("%w: %d tokens needed, window is %d", ErrPromptTooLong, total, b.window)
	}
	return nil
}
