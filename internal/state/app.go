package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/skyq/internal/engine"
	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/types"
)

var (
	// ErrAlreadyRunning is returned when a run is started while another is executing.
	ErrAlreadyRunning = errors.New("a query is already running")
	// ErrNotRunning is returned when cancelling while nothing is executing.
	ErrNotRunning = errors.New("no query is running")
	// ErrCancelPending is returned when a cancellation is already underway.
	ErrCancelPending = errors.New("cancellation already in progress")
)

// Status lines written by the state machine.
const (
	StatusConnecting = "Connecting..."
	StatusExecuting  = "Executing query..."
	StatusComplete   = "Complete"
	StatusError      = "Error"
	StatusCancelling = "Cancelling..."
	StatusCancelled  = "Cancelled"
)

// ExecutionState describes the current or most recent run.
type ExecutionState struct {
	RunID       types.RunID      `json:"run_id,omitempty"`
	IsExecuting bool             `json:"is_executing"`
	Status      string           `json:"status"`
	Logs        []string         `json:"logs"`
	QueryID     string           `json:"query_id,omitempty"`
	Result      *ExecutionResult `json:"result,omitempty"`
	QueryType   query.Type       `json:"query_type,omitempty"`
	Params      query.Params     `json:"params"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
}

func (e ExecutionState) clone() ExecutionState {
	c := e
	c.Logs = append([]string(nil), e.Logs...)
	c.Result = e.Result.clone()
	c.Params = e.Params.Clone()
	return c
}

// ChatMessage is one entry of the assistant transcript.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Message roles and types.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	MessageText  = "text"
	MessageCode  = "code"
	MessageError = "error"
)

// AgentInfo records which LLM backend last served the assistant.
type AgentInfo struct {
	Configured bool   `json:"configured"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	LastError  string `json:"last_error,omitempty"`
}

// AppState is the single shared application state. All access goes through
// its methods, which hold one mutex for the duration of each call and never
// across I/O.
type AppState struct {
	mu  sync.Mutex
	now func() time.Time

	params     query.Params
	queryType  query.Type
	messages   []ChatMessage
	lastResult *engine.ResultSet
	exec       ExecutionState
	agent      AgentInfo

	cancelRequested bool
}

// New creates an empty AppState using the default query type.
func New() *AppState {
	return &AppState{now: time.Now, queryType: query.DefaultType}
}

// SetClock replaces the wall clock used for log timestamps.
func (s *AppState) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *AppState) addLog(msg string) {
	s.exec.Logs = append(s.exec.Logs, fmt.Sprintf("[%s] %s", s.now().Local().Format("15:04:05"), msg))
}

// BeginRun resets the execution state for a new run. It fails with
// ErrAlreadyRunning, leaving the state untouched, while a run is executing.
func (s *AppState) BeginRun(id types.RunID, params query.Params, t query.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exec.IsExecuting {
		return ErrAlreadyRunning
	}
	s.exec = ExecutionState{
		RunID:       id,
		IsExecuting: true,
		Status:      StatusConnecting,
		Logs:        []string{},
		QueryType:   t,
		Params:      params.Clone(),
		StartedAt:   s.now(),
	}
	s.cancelRequested = false
	s.addLog("Starting query execution")
	return nil
}

// Apply applies a run event. Events for a run other than the current one,
// events after the run reached a terminal result, and anything but log lines
// once cancellation was requested are ignored. It reports whether the event
// changed the state.
func (s *AppState) Apply(id types.RunID, ev Event) bool {
	_, ok := s.Commit(id, ev)
	return ok
}

// Commit is Apply that also returns a copy of the execution state as the
// event left it, taken under the same lock. A terminal event's copy is the
// run's final state even if another run begins right after.
func (s *AppState) Commit(id types.RunID, ev Event) (ExecutionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exec.RunID != id || s.exec.Result != nil {
		return ExecutionState{}, false
	}
	if s.cancelRequested {
		if _, ok := ev.(Logged); !ok {
			if isTerminal(ev) {
				s.addLog("Run finished after cancellation; result discarded")
			}
			return ExecutionState{}, false
		}
	}
	ev.apply(s)
	return s.exec.clone(), true
}

// RequestCancel marks the current run as cancelling and returns its id and
// remote query handle, if one was recorded.
func (s *AppState) RequestCancel() (types.RunID, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exec.IsExecuting {
		return "", "", ErrNotRunning
	}
	if s.cancelRequested {
		return "", "", ErrCancelPending
	}
	s.cancelRequested = true
	s.addLog("Cancellation requested...")
	s.exec.Status = StatusCancelling
	if s.exec.QueryID != "" {
		s.addLog(fmt.Sprintf("Cancelling Trino query %s...", s.exec.QueryID))
	}
	return s.exec.RunID, s.exec.QueryID, nil
}

// FinishCancel forces the run into the Cancelled terminal state and returns
// a copy of that state. It reports false if the run already finished.
func (s *AppState) FinishCancel(id types.RunID) (ExecutionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exec.RunID != id || s.exec.Result != nil {
		return ExecutionState{}, false
	}
	s.exec.Status = StatusCancelled
	s.exec.Result = CancelledResult()
	s.exec.FinishedAt = s.now()
	s.exec.IsExecuting = false
	return s.exec.clone(), true
}

// Execution returns a copy of the execution state.
func (s *AppState) Execution() ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec.clone()
}

// StatusSnapshot is what pollers see.
type StatusSnapshot struct {
	RunID       types.RunID      `json:"run_id,omitempty"`
	IsExecuting bool             `json:"is_executing"`
	Status      string           `json:"status"`
	Logs        []string         `json:"logs"`
	Complete    bool             `json:"complete"`
	Result      *ExecutionResult `json:"result"`
	CanCancel   bool             `json:"can_cancel"`
	QueryID     string           `json:"query_id,omitempty"`
}

// Status returns a consistent snapshot of the execution state. CanCancel is
// only set once the engine has assigned a query handle.
func (s *AppState) Status() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusSnapshot{
		RunID:       s.exec.RunID,
		IsExecuting: s.exec.IsExecuting,
		Status:      s.exec.Status,
		Logs:        append([]string(nil), s.exec.Logs...),
		Complete:    s.exec.Result != nil,
		Result:      s.exec.Result.clone(),
		CanCancel:   s.exec.IsExecuting && s.exec.QueryID != "",
		QueryID:     s.exec.QueryID,
	}
}

// RecentLogs returns at most n log lines, newest first.
func (s StatusSnapshot) RecentLogs(n int) []string {
	out := make([]string, 0, min(n, len(s.Logs)))
	for i := len(s.Logs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.Logs[i])
	}
	return out
}

// Params returns a copy of the current query parameters.
func (s *AppState) Params() query.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Clone()
}

// SetParams replaces the query parameters.
func (s *AppState) SetParams(p query.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p.Clone()
}

// SetParam updates a single parameter by key.
func (s *AppState) SetParam(key, value string) (query.Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.params.Clone()
	if err := p.Set(key, value); err != nil {
		return s.params.Clone(), err
	}
	s.params = p
	return p.Clone(), nil
}

// ApplyPreset sets start and stop from a named time preset.
func (s *AppState) ApplyPreset(name string) (query.Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.params.Clone()
	if err := p.ApplyPreset(name, s.now()); err != nil {
		return s.params.Clone(), err
	}
	s.params = p
	return p.Clone(), nil
}

// ClearParams resets all query parameters.
func (s *AppState) ClearParams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = query.Params{}
}

// QueryType returns the dataset the next run will read.
func (s *AppState) QueryType() query.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryType
}

// SetQueryType selects the dataset for the next run.
func (s *AppState) SetQueryType(t query.Type) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryType = t
}

// SetParsed stores the outcome of a natural-language parse.
func (s *AppState) SetParsed(pq *query.ParsedQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = pq.Params.Clone()
	s.queryType = pq.Type
}

// LastResult returns the rows of the most recent successful run.
func (s *AppState) LastResult() *engine.ResultSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// AddMessage appends to the chat transcript.
func (s *AppState) AddMessage(role, content, typ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, ChatMessage{Role: role, Content: content, Type: typ})
}

// Messages returns a copy of the chat transcript.
func (s *AppState) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage{}, s.messages...)
}

// ClearMessages empties the chat transcript.
func (s *AppState) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// AgentInfo returns what the chat flow last reported about its backend.
func (s *AppState) AgentInfo() AgentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// SetAgentInfo replaces the backend report.
func (s *AppState) SetAgentInfo(info AgentInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent = info
}
