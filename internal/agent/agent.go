// Package agent turns natural-language questions into OpenSky query
// parameters with a single LLM completion.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/pkg/llm"
)

// Agent parses free text into a ParsedQuery. It holds no per-request state.
type Agent struct {
	provider llm.Provider
	tmpl     *template.Template
	opts     llm.Options
	now      func() time.Time
	budget   *TokenBudget
	group    singleflight.Group
}

// Option configures an Agent.
type Option func(*Agent)

// WithClock replaces the clock used for the prompt's current time.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithOptions overrides the sampling options.
func WithOptions(opts llm.Options) Option {
	return func(a *Agent) { a.opts = opts }
}

// WithTokenBudget rejects prompts that would not fit the context window
// before any request is sent.
func WithTokenBudget(b *TokenBudget) Option {
	return func(a *Agent) { a.budget = b }
}

// New creates an agent. An empty prompt uses DefaultPrompt.
func New(provider llm.Provider, prompt string, opts ...Option) (*Agent, error) {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	tmpl, err := parseTemplate(prompt)
	if err != nil {
		return nil, err
	}
	a := &Agent{
		provider: provider,
		tmpl:     tmpl,
		opts:     llm.DefaultOptions(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Parse sends text to the model and maps its answer to a ParsedQuery.
// Identical concurrent calls share one request, which runs detached from
// any single caller's cancellation; each caller stops waiting when its own
// ctx ends. Errors are not retried.
func (a *Agent) Parse(ctx context.Context, text string) (*query.ParsedQuery, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ParseError{Message: "Query unclear: empty question", Unclear: true}
	}

	shared := context.WithoutCancel(ctx)
	ch := a.group.DoChan(text, func() (any, error) {
		return a.parse(shared, text)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		slog.Debug("agent parse shared", "text", text)
	}
	pq := *res.Val.(*query.ParsedQuery)
	pq.Params = pq.Params.Clone()
	return &pq, nil
}

func (a *Agent) parse(ctx context.Context, text string) (*query.ParsedQuery, error) {
	prompt, err := render(a.tmpl, PromptData{
		Now:   a.now().Local().Format(query.TimeLayout),
		Query: text,
	})
	if err != nil {
		return nil, err
	}
	messages := llm.Prompt(prompt)

	if a.budget != nil {
		if err := a.budget.Check(messages, a.opts.MaxTokens); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := a.provider.Complete(ctx, messages, a.opts)
	if err != nil {
		// Provider errors carry the backend's message verbatim.
		return nil, err
	}
	slog.Debug("agent completion", "model", resp.Model, "tokens", resp.Usage.TotalTokens, "duration", time.Since(start))

	return parseResponse(resp.Content)
}
