package state

import "strconv"

// ResultKind tags the terminal outcome of a run.
type ResultKind string

const (
	ResultSuccess   ResultKind = "success"
	ResultNoData    ResultKind = "no_data"
	ResultError     ResultKind = "error"
	ResultCancelled ResultKind = "cancelled"
)

// NoDataMessage is the status and message used when a query returns no rows.
const NoDataMessage = "No data found"

// ExecutionResult is the terminal outcome of a run. Exactly one Kind is set;
// the other fields are meaningful only for the kinds that use them.
type ExecutionResult struct {
	Kind      ResultKind `json:"kind"`
	RowCount  int        `json:"row_count"`
	Columns   []string   `json:"columns,omitempty"`
	Message   string     `json:"message,omitempty"`
	Cancelled bool       `json:"cancelled,omitempty"`
}

// SuccessResult is a run that returned rows.
func SuccessResult(rows int, columns []string) *ExecutionResult {
	return &ExecutionResult{Kind: ResultSuccess, RowCount: rows, Columns: append([]string(nil), columns...)}
}

// NoDataResult is a run that finished without rows.
func NoDataResult() *ExecutionResult {
	return &ExecutionResult{Kind: ResultNoData, Message: NoDataMessage}
}

// ErrorResult is a run that failed with msg.
func ErrorResult(msg string) *ExecutionResult {
	return &ExecutionResult{Kind: ResultError, Message: msg}
}

// CancelledResult is a run stopped by Cancel.
func CancelledResult() *ExecutionResult {
	return &ExecutionResult{Kind: ResultCancelled, Cancelled: true}
}

// Summary is a one-line description of the outcome.
func (r *ExecutionResult) Summary() string {
	if r == nil {
		return "running"
	}
	switch r.Kind {
	case ResultSuccess:
		return "retrieved " + strconv.Itoa(r.RowCount) + " rows"
	case ResultNoData:
		return NoDataMessage
	case ResultCancelled:
		return "cancelled"
	default:
		return "error: " + r.Message
	}
}

func (r *ExecutionResult) clone() *ExecutionResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Columns = append([]string(nil), r.Columns...)
	return &c
}
