package state

import (
	"fmt"

	"github.com/user/skyq/internal/engine"
)

// Event is a state transition produced by a run. Events are applied with
// AppState.Apply under the state lock.
type Event interface {
	apply(s *AppState)
}

// Logged appends a log line.
type Logged struct {
	Message string
}

// Connected marks the engine connection as established.
type Connected struct{}

// Progressed carries one engine progress report.
type Progressed struct {
	Progress engine.Progress
}

// Completed carries the rows of a finished query.
type Completed struct {
	Result *engine.ResultSet
}

// Failed ends the run with an error. Connect distinguishes connection
// failures from query failures in the log.
type Failed struct {
	Err     error
	Connect bool
}

func (e Logged) apply(s *AppState) {
	s.addLog(e.Message)
}

func (Connected) apply(s *AppState) {
	s.addLog("Connected to OpenSky Trino")
	s.exec.Status = StatusExecuting
}

func (e Progressed) apply(s *AppState) {
	p := e.Progress
	s.exec.Status = fmt.Sprintf("%s | %.1f%% | %d rows", p.State, p.Percent, p.RowCount)
	if p.QueryID != "" && s.exec.QueryID == "" {
		s.exec.QueryID = p.QueryID
		s.addLog(fmt.Sprintf("Query ID: %s", p.QueryID))
	}
}

func (e Completed) apply(s *AppState) {
	rows := e.Result.RowCount()
	if rows == 0 {
		s.addLog(NoDataMessage)
		s.exec.Status = NoDataMessage
		s.exec.Result = NoDataResult()
	} else {
		s.addLog(fmt.Sprintf("Retrieved %d rows", rows))
		s.exec.Status = StatusComplete
		s.exec.Result = SuccessResult(rows, e.Result.Columns)
		s.lastResult = e.Result
	}
	s.exec.FinishedAt = s.now()
	s.exec.IsExecuting = false
}

func (e Failed) apply(s *AppState) {
	if e.Connect {
		s.addLog(fmt.Sprintf("Connection error: %v", e.Err))
	} else {
		s.addLog(fmt.Sprintf("Error: %v", e.Err))
	}
	s.exec.Status = StatusError
	s.exec.Result = ErrorResult(e.Err.Error())
	s.exec.FinishedAt = s.now()
	s.exec.IsExecuting = false
}

func isTerminal(ev Event) bool {
	switch ev.(type) {
	case Completed, Failed:
		return true
	}
	return false
}
