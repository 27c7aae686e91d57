package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/state"
	"github.com/user/skyq/internal/types"
)

// run tracks one background execution. It owns copies of the parameters so
// later edits to the shared state do not affect it.
type run struct {
	id        types.RunID
	origin    types.OriginKey
	notify    string
	params    query.Params
	queryType query.Type
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// handleQueued is set once a report carrying the query handle is on
	// the channel. Only the engine goroutine touches it.
	handleQueued bool

	done     chan struct{}
	finished sync.Once
}

func newRun(params query.Params, t query.Type) *run {
	return &run{
		id:        types.NewRunID(),
		params:    params.Clone(),
		queryType: t,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// update is one state event produced by a run, applied by the consumer.
type update struct {
	run *run
	ev  state.Event
}

// ExecOption configures optional behavior on a run.
type ExecOption func(*run)

// WithOrigin records where the run was requested from in the run history.
func WithOrigin(key types.OriginKey) ExecOption {
	return func(r *run) { r.origin = key }
}

// WithNotify sends a completion notice to key, e.g. "telegram:12345", when
// a notifier is configured.
func WithNotify(key string) ExecOption {
	return func(r *run) { r.notify = key }
}
