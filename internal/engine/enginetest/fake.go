// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"context"
	"sync"

	"github.com/user/skyq/internal/engine"
	"github.com/user/skyq/internal/query"
)

// Engine is a fake engine.Engine. Each Connect returns a Conn backed by the
// same script.
type Engine struct {
	// ConnectErr, when set, is returned by every Connect call.
	ConnectErr error
	// Progress is reported in order before the run finishes.
	Progress []engine.Progress
	// Result and Err are returned by RunWithProgress.
	Result *engine.ResultSet
	Err    error
	// Block, when non-nil, holds RunWithProgress after the progress reports
	// until it is closed or the run's context ends.
	Block chan struct{}
	// CancelErr is returned by Cancel.
	CancelErr error

	mu        sync.Mutex
	connects  int
	cancelled []string
	runs      []Run
	started   chan struct{}
}

// Run records one RunWithProgress call.
type Run struct {
	Params query.Params
	Type   query.Type
}

// Started returns a channel closed once a run has reported all its progress.
func (e *Engine) Started() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started == nil {
		e.started = make(chan struct{})
	}
	return e.started
}

func (e *Engine) Connect(ctx context.Context) (engine.Conn, error) {
	e.mu.Lock()
	e.connects++
	e.mu.Unlock()
	if e.ConnectErr != nil {
		return nil, e.ConnectErr
	}
	return &conn{e: e}, nil
}

// Connects returns how many times Connect was called.
func (e *Engine) Connects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connects
}

// Cancelled returns the query IDs passed to Cancel.
func (e *Engine) Cancelled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.cancelled...)
}

// Runs returns the recorded RunWithProgress calls.
func (e *Engine) Runs() []Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Run(nil), e.runs...)
}

type conn struct {
	e *Engine
}

func (c *conn) RunWithProgress(ctx context.Context, params query.Params, t query.Type, fn engine.ProgressFunc) (*engine.ResultSet, error) {
	c.e.mu.Lock()
	c.e.runs = append(c.e.runs, Run{Params: params, Type: t})
	c.e.mu.Unlock()

	for _, p := range c.e.Progress {
		if fn != nil {
			fn(p)
		}
	}

	c.e.mu.Lock()
	if c.e.started == nil {
		c.e.started = make(chan struct{})
	}
	select {
	case <-c.e.started:
	default:
		close(c.e.started)
	}
	c.e.mu.Unlock()

	if c.e.Block != nil {
		select {
		case <-c.e.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.e.Err != nil {
		return nil, c.e.Err
	}
	if c.e.Result == nil {
		return &engine.ResultSet{}, nil
	}
	return c.e.Result, nil
}

func (c *conn) Cancel(ctx context.Context, queryID string) error {
	c.e.mu.Lock()
	c.e.cancelled = append(c.e.cancelled, queryID)
	c.e.mu.Unlock()
	return c.e.CancelErr
}

func (c *conn) Close() error { return nil }
