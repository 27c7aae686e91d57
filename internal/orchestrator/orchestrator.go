// Package orchestrator runs OpenSky queries in the background and streams
// their progress into the shared application state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/skyq/internal/engine"
	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/state"
	"github.com/user/skyq/internal/types"
)

var (
	ErrAlreadyRunning = state.ErrAlreadyRunning
	ErrNotRunning     = state.ErrNotRunning
	ErrCancelPending  = state.ErrCancelPending
	// ErrNotStarted is returned by Execute before Start or after Stop.
	ErrNotStarted = errors.New("orchestrator not started")
	// ErrInvalidParams wraps the validation error of a refused Execute.
	ErrInvalidParams = errors.New("invalid query")
)

const (
	defaultBufferSize    = 64
	defaultCancelTimeout = 10 * time.Second
)

// Recorder stores finished runs.
type Recorder interface {
	Append(ctx context.Context, rec *state.RunRecord) error
}

// Notifier delivers a completion notice to a target key.
type Notifier interface {
	Deliver(key, message string) error
}

// Orchestrator starts one run at a time. Runs execute on their own
// goroutine; every state change they produce travels through one bounded
// FIFO channel to a single consumer, so events are applied in the order
// they were produced.
type Orchestrator struct {
	state         *state.AppState
	engine        engine.Engine
	recorder      Recorder
	notifier      Notifier
	cancelTimeout time.Duration
	bufferSize    int

	updates chan update
	dropped atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	runs     sync.WaitGroup
	consumer sync.WaitGroup
	bg       sync.WaitGroup

	mu     sync.Mutex
	active *run
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder appends every finished run to rec.
func WithRecorder(rec Recorder) Option {
	return func(o *Orchestrator) { o.recorder = rec }
}

// WithNotifier sends a completion notice for runs started WithNotify.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithCancelTimeout bounds the remote cancel request.
func WithCancelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.cancelTimeout = d }
}

// WithBufferSize sets the capacity of the progress channel.
func WithBufferSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// New creates an Orchestrator writing into st and executing on eng.
func New(st *state.AppState, eng engine.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		state:         st,
		engine:        eng,
		cancelTimeout: defaultCancelTimeout,
		bufferSize:    defaultBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start initialises the orchestrator's context and starts the state
// consumer. Must be called before Execute.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.updates = make(chan update, o.bufferSize)
	o.quit = make(chan struct{})
	o.consumer.Add(1)
	go o.consume()
}

// Stop cancels in-flight runs, waits for them to report, then stops the
// consumer once every pending update has been applied.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.cancel == nil {
		o.mu.Unlock()
		return
	}
	o.cancel()
	o.cancel = nil
	o.mu.Unlock()

	o.runs.Wait()
	close(o.quit)
	o.consumer.Wait()
	o.bg.Wait()
}

// Shutdown cancels the executing run, remote query included, then stops.
// It is Stop for callers that must not leave queries running on the engine.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	switch err := o.Cancel(ctx); {
	case err == nil:
		slog.Info("running query cancelled for shutdown")
	case !errors.Is(err, ErrNotRunning):
		slog.Warn("cancel on shutdown", "error", err)
	}
	o.Stop()
}

// State returns the shared state the orchestrator writes into.
func (o *Orchestrator) State() *state.AppState {
	return o.state
}

// Execute starts a background run for params and t. It fails, leaving the
// state untouched, with ErrAlreadyRunning while another run is executing and
// with an error wrapping ErrInvalidParams when params do not validate. The
// returned id identifies the run in status and history.
func (o *Orchestrator) Execute(params query.Params, t query.Type, opts ...ExecOption) (types.RunID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel == nil {
		return "", ErrNotStarted
	}
	if err := params.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	r := newRun(params, t)
	for _, opt := range opts {
		opt(r)
	}
	if err := o.state.BeginRun(r.id, r.params, r.queryType); err != nil {
		return "", err
	}
	r.ctx, r.cancel = context.WithCancel(o.ctx)
	o.active = r

	slog.Info("run started", "run_id", string(r.id), "query_type", string(t), "origin", string(r.origin))
	o.runs.Add(1)
	go o.execute(r)
	return r.id, nil
}

// ExecuteSaved starts a saved query. A preset is evaluated against now so
// scheduled runs always cover a fresh window.
func (o *Orchestrator) ExecuteSaved(q *state.SavedQuery, now time.Time, origin types.OriginKey) (types.RunID, error) {
	params := q.Params.Clone()
	if q.Preset != "" {
		if err := params.ApplyPreset(q.Preset, now); err != nil {
			return "", fmt.Errorf("saved query %s: %w", q.Name, err)
		}
	}
	opts := []ExecOption{WithOrigin(origin)}
	if q.Notify != "" {
		opts = append(opts, WithNotify(q.Notify))
	}
	return o.Execute(params, q.Type, opts...)
}

// execute is the background half of a run. It never touches the state
// directly.
func (o *Orchestrator) execute(r *run) {
	defer o.runs.Done()
	defer r.cancel()

	conn, err := o.engine.Connect(r.ctx)
	if err != nil {
		o.send(r, state.Failed{Err: err, Connect: true})
		return
	}
	defer conn.Close()
	o.send(r, state.Connected{})

	res, err := conn.RunWithProgress(r.ctx, r.params, r.queryType, func(p engine.Progress) {
		o.progress(r, p)
	})
	if err != nil {
		var connErr *engine.ConnectionError
		o.send(r, state.Failed{Err: err, Connect: errors.As(err, &connErr)})
		return
	}
	o.send(r, state.Completed{Result: res})
}

// progress forwards a progress report without blocking the engine. Reports
// are dropped when the channel is full, except the first one carrying the
// query handle, which cancellation depends on.
func (o *Orchestrator) progress(r *run, p engine.Progress) {
	u := update{run: r, ev: state.Progressed{Progress: p}}
	if p.QueryID != "" && !r.handleQueued {
		select {
		case o.updates <- u:
			r.handleQueued = true
		case <-r.ctx.Done():
		}
		return
	}
	select {
	case o.updates <- u:
	default:
		n := o.dropped.Add(1)
		slog.Debug("progress update dropped", "run_id", string(r.id), "dropped", n)
	}
}

// send delivers an event in order. The consumer outlives every run, so
// this cannot block forever.
func (o *Orchestrator) send(r *run, ev state.Event) {
	o.updates <- update{run: r, ev: ev}
}

// consume applies updates until Stop, then drains what is left.
func (o *Orchestrator) consume() {
	defer o.consumer.Done()
	for {
		select {
		case u := <-o.updates:
			o.apply(u)
		case <-o.quit:
			for {
				select {
				case u := <-o.updates:
					o.apply(u)
				default:
					return
				}
			}
		}
	}
}

func (o *Orchestrator) apply(u update) {
	exec, ok := o.state.Commit(u.run.id, u.ev)
	if !ok {
		return
	}
	switch u.ev.(type) {
	case state.Completed, state.Failed:
		o.finish(u.run, exec)
	}
}

// Cancel requests cancellation of the current run. The run's context is
// cancelled, the remote query is cancelled on a fresh connection when a
// handle is known, and the run ends Cancelled whatever the remote outcome.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	id, queryID, err := o.state.RequestCancel()
	if err != nil {
		return err
	}
	slog.Info("run cancel requested", "run_id", string(id), "query_id", queryID)

	r := o.current(id)
	if r != nil {
		r.cancel()
	}
	if queryID != "" {
		o.cancelRemote(ctx, id, queryID)
	}
	if exec, ok := o.state.FinishCancel(id); ok && r != nil {
		o.finish(r, exec)
	}
	return nil
}

func (o *Orchestrator) cancelRemote(ctx context.Context, id types.RunID, queryID string) {
	ctx, cancel := context.WithTimeout(ctx, o.cancelTimeout)
	defer cancel()

	conn, err := o.engine.Connect(ctx)
	if err != nil {
		o.state.Apply(id, state.Logged{Message: fmt.Sprintf("Connection error: %v", err)})
		return
	}
	defer conn.Close()

	if err := conn.Cancel(ctx, queryID); err != nil {
		slog.Warn("remote cancel failed", "run_id", string(id), "query_id", queryID, "error", err)
		o.state.Apply(id, state.Logged{Message: fmt.Sprintf("Cancel error: %v", err)})
		return
	}
	o.state.Apply(id, state.Logged{Message: "Trino query cancelled"})
}

// Status returns a snapshot of the current or most recent run.
func (o *Orchestrator) Status() state.StatusSnapshot {
	return o.state.Status()
}

// Wait blocks until the run id has reached a terminal result or ctx ends.
// It returns immediately for runs that already finished.
func (o *Orchestrator) Wait(ctx context.Context, id types.RunID) error {
	r := o.current(id)
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) current(id types.RunID) *run {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.active.id != id {
		return nil
	}
	return o.active
}

// finish records and announces a run that reached its terminal result.
// exec is the state the terminal event left behind.
func (o *Orchestrator) finish(r *run, exec state.ExecutionState) {
	r.finished.Do(func() {
		slog.Info("run finished", "run_id", string(r.id), "status", exec.Status, "duration", time.Since(r.createdAt))

		if o.recorder != nil {
			if err := o.recorder.Append(context.Background(), state.RecordFromExecution(exec, r.origin)); err != nil {
				slog.Error("record run failed", "run_id", string(r.id), "error", err)
			}
		}
		if o.notifier != nil && r.notify != "" {
			msg := completionMessage(exec)
			o.bg.Add(1)
			go func() {
				defer o.bg.Done()
				if err := o.notifier.Deliver(r.notify, msg); err != nil {
					slog.Error("completion notice failed", "run_id", string(r.id), "notify", r.notify, "error", err)
				}
			}()
		}

		o.mu.Lock()
		if o.active == r {
			o.active = nil
		}
		o.mu.Unlock()
		close(r.done)
	})
}

func completionMessage(exec state.ExecutionState) string {
	msg := fmt.Sprintf("%s query finished: %s", exec.QueryType, exec.Result.Summary())
	if exec.QueryID != "" {
		msg += fmt.Sprintf(" (Trino query %s)", exec.QueryID)
	}
	return msg
}
