// Package delivery routes run completion notices back to where the run was
// requested from.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/skyq/internal/types"
)

// Handler delivers a message to the target named by key, e.g. a Telegram
// chat for "telegram:12345".
type Handler func(key types.OriginKey, message string) error

// NoHandlerError is returned when no handler is registered for a key's source.
type NoHandlerError struct {
	Key types.OriginKey
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no delivery handler for origin: %s", e.Key)
}

// Registry routes messages by the source part of an origin key
// ("telegram", "scheduler", ...).
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	retry    *RetryPolicy
	ctx      context.Context
}

// NewRegistry creates an empty registry using DefaultRetryPolicy.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		retry:    DefaultRetryPolicy(),
		ctx:      context.Background(),
	}
}

// SetRetryPolicy replaces the retry policy.
func (r *Registry) SetRetryPolicy(p *RetryPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retry = p
}

// SetContext bounds retries; once ctx ends no further attempts are made.
func (r *Registry) SetContext(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
}

// Register adds a handler for origin keys whose source is source.
func (r *Registry) Register(source string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[source] = handler
}

// Deliver sends message to the handler for key's source, retrying transient
// failures.
func (r *Registry) Deliver(key, message string) error {
	origin := types.OriginKey(key)

	r.mu.RLock()
	handler, ok := r.handlers[origin.Source()]
	retry, ctx := r.retry, r.ctx
	r.mu.RUnlock()

	if !ok {
		return &NoHandlerError{Key: origin}
	}
	attempts := 0
	err := retry.Execute(ctx, func() error {
		attempts++
		return handler(origin, message)
	})
	if err != nil && attempts > 1 {
		slog.Warn("delivery failed after retries", "origin", key, "attempts", attempts, "error", err)
	}
	return err
}
