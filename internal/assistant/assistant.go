// Package assistant implements the chat flow: a user message is parsed into
// query parameters, which replace the current ones and are echoed back as a
// runnable preview.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/skyq/internal/agent"
	"github.com/user/skyq/internal/config"
	"github.com/user/skyq/internal/providers"
	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/state"
	"github.com/user/skyq/pkg/llm"
)

// Messages written to the transcript.
const (
	NotConfiguredMessage = "LLM not configured. Please add your API key in Settings."
	unclearPrefix        = "Sorry, I couldn't understand that query: "
)

// ConfigFunc returns the current LLM configuration. It is called on every
// message so settings changes take effect without a restart.
type ConfigFunc func() (config.LLMConfig, error)

// ProviderFunc builds a provider for a configuration.
type ProviderFunc func(ctx context.Context, c config.LLMConfig) (llm.Provider, error)

// Reply is the outcome of one Send.
type Reply struct {
	Messages []state.ChatMessage `json:"messages"`
	// Parsed is set when the message was turned into a query.
	Parsed *query.ParsedQuery `json:"parsed,omitempty"`
}

// Assistant turns chat messages into query parameters.
type Assistant struct {
	state       *state.AppState
	loadConfig  ConfigFunc
	newProvider ProviderFunc
	prompt      string
	agentOpts   []agent.Option

	mu        sync.Mutex
	agent     *agent.Agent
	agentConf config.LLMConfig
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithProviderFunc replaces providers.FromConfig.
func WithProviderFunc(fn ProviderFunc) Option {
	return func(a *Assistant) { a.newProvider = fn }
}

// WithPrompt overrides the agent prompt template.
func WithPrompt(prompt string) Option {
	return func(a *Assistant) { a.prompt = prompt }
}

// WithAgentOptions passes options to every agent the assistant builds.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(a *Assistant) { a.agentOpts = append(a.agentOpts, opts...) }
}

// New creates an Assistant writing into st. load is called per message.
func New(st *state.AppState, load ConfigFunc, opts ...Option) *Assistant {
	a := &Assistant{
		state:       st,
		loadConfig:  load,
		newProvider: providers.FromConfig,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Send records text in the transcript and answers it. Problems with the
// question or the model end up as error messages in the transcript; the
// returned error is reserved for failures to load the configuration.
func (a *Assistant) Send(ctx context.Context, text string) (*Reply, error) {
	a.state.AddMessage(state.RoleUser, text, state.MessageText)

	cfg, err := a.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.IsConfigured() {
		return a.fail(cfg, NotConfiguredMessage, nil), nil
	}

	ag, err := a.agentFor(ctx, cfg)
	if err != nil {
		var ue *providers.UnsupportedError
		if errors.As(err, &ue) {
			return a.fail(cfg, ue.Error()+". Use groq, openai, ollama or gemini.", err), nil
		}
		return a.fail(cfg, err.Error(), err), nil
	}

	pq, err := ag.Parse(ctx, text)
	if err != nil {
		slog.Warn("query parse failed", "provider", cfg.Provider, "error", err)
		return a.fail(cfg, unclearPrefix+err.Error(), err), nil
	}

	a.state.SetParsed(pq)
	a.state.AddMessage(state.RoleAssistant, query.Preview(pq.Params, pq.Type), state.MessageCode)
	a.state.SetAgentInfo(state.AgentInfo{
		Configured: true,
		Provider:   cfg.Provider,
		Model:      providers.Model(cfg),
	})
	return &Reply{Messages: a.state.Messages(), Parsed: pq}, nil
}

func (a *Assistant) fail(cfg config.LLMConfig, msg string, cause error) *Reply {
	a.state.AddMessage(state.RoleAssistant, msg, state.MessageError)
	info := state.AgentInfo{
		Configured: cfg.IsConfigured(),
		Provider:   cfg.Provider,
		Model:      providers.Model(cfg),
	}
	if cause != nil {
		info.LastError = cause.Error()
	}
	a.state.SetAgentInfo(info)
	return &Reply{Messages: a.state.Messages()}
}

// agentFor returns an agent for cfg, reusing the previous one while the
// configuration is unchanged.
func (a *Assistant) agentFor(ctx context.Context, cfg config.LLMConfig) (*agent.Agent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.agent != nil && a.agentConf == cfg {
		return a.agent, nil
	}

	provider, err := a.newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := append([]agent.Option(nil), a.agentOpts...)
	if cfg.MaxContextTokens > 0 {
		budget, err := agent.NewTokenBudget(providers.Model(cfg), cfg.MaxContextTokens)
		if err != nil {
			slog.Warn("token budget disabled", "error", err)
		} else {
			opts = append(opts, agent.WithTokenBudget(budget))
		}
	}
	ag, err := agent.New(provider, a.prompt, opts...)
	if err != nil {
		return nil, err
	}
	a.agent, a.agentConf = ag, cfg
	return ag, nil
}

// Status reports whether the configured provider is usable and which model
// it runs, with the last error seen by the chat flow.
func (a *Assistant) Status() (state.AgentInfo, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return state.AgentInfo{}, fmt.Errorf("load config: %w", err)
	}
	return state.AgentInfo{
		Configured: cfg.IsConfigured(),
		Provider:   cfg.Provider,
		Model:      providers.Model(cfg),
		LastError:  a.state.AgentInfo().LastError,
	}, nil
}
