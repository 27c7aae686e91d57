// Package engine defines the boundary to the remote query engine.
package engine

import (
	"context"
	"fmt"

	"github.com/user/skyq/internal/query"
)

// Progress is a snapshot reported while a query runs.
type Progress struct {
	State    string
	Percent  float64
	RowCount int
	// QueryID is the engine's handle for the query, empty until assigned.
	QueryID string
}

// ProgressFunc receives progress snapshots. It is called on the goroutine
// running the query and must not block.
type ProgressFunc func(Progress)

// ResultSet holds the rows returned by a query.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// RowCount returns the number of rows.
func (r *ResultSet) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Engine opens connections to the remote query engine.
type Engine interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is one connection to the engine.
type Conn interface {
	RunWithProgress(ctx context.Context, params query.Params, t query.Type, fn ProgressFunc) (*ResultSet, error)
	Cancel(ctx context.Context, queryID string) error
	Close() error
}

// ConnectionError reports a failure to reach or authenticate with the engine.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return e.Err.Error() }

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports a failure while a query was executing.
type QueryError struct {
	QueryID string
	Message string
}

func (e *QueryError) Error() string {
	if e.QueryID == "" {
		return e.Message
	}
	return fmt.Sprintf("query %s failed: %s", e.QueryID, e.Message)
}
