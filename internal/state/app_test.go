package state

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/user/skyq/internal/engine"
	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/types"
)

func newTestState() *AppState {
	s := New()
	s.SetClock(func() time.Time { return time.Date(2025, 3, 12, 14, 37, 21, 0, time.Local) })
	return s
}

func begin(t *testing.T, s *AppState) types.RunID {
	t.Helper()
	id := types.NewRunID()
	if err := s.BeginRun(id, query.Params{Start: "2025-01-01"}, query.Flights); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestBeginRun(t *testing.T) {
	s := newTestState()
	begin(t, s)

	st := s.Status()
	if !st.IsExecuting || st.Status != StatusConnecting || st.Complete || st.QueryID != "" {
		t.Errorf("unexpected state after begin: %+v", st)
	}
	if len(st.Logs) != 1 || st.Logs[0] != "[14:37:21] Starting query execution" {
		t.Errorf("unexpected logs %v", st.Logs)
	}
}

func TestBeginRunRejectedWhileExecuting(t *testing.T) {
	s := newTestState()
	id := begin(t, s)
	s.Apply(id, Progressed{Progress: engine.Progress{State: "RUNNING", Percent: 10, QueryID: "q1"}})

	before := s.Execution()
	err := s.BeginRun(types.NewRunID(), query.Params{Start: "2025-02-01"}, query.Trajectory)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err.Error() != "a query is already running" {
		t.Errorf("unexpected message %q", err.Error())
	}
	after := s.Execution()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("state changed on rejected start:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestProgressRecordsQueryIDOnce(t *testing.T) {
	s := newTestState()
	id := begin(t, s)
	s.Apply(id, Connected{})
	s.Apply(id, Progressed{Progress: engine.Progress{State: "QUEUED", QueryID: "q1"}})
	s.Apply(id, Progressed{Progress: engine.Progress{State: "RUNNING", Percent: 42.25, RowCount: 1200, QueryID: "q2"}})

	st := s.Status()
	if st.QueryID != "q1" {
		t.Errorf("expected first query id to stick, got %q", st.QueryID)
	}
	if st.Status != "RUNNING | 42.2% | 1200 rows" && st.Status != "RUNNING | 42.3% | 1200 rows" {
		t.Errorf("unexpected status line %q", st.Status)
	}
	n := 0
	for _, l := range st.Logs {
		if strings.Contains(l, "Query ID:") {
			n++
		}
	}
	if n != 1 {
		t.Errorf("expected one Query ID log line, got %d in %v", n, st.Logs)
	}
	if !st.CanCancel {
		t.Error("expected can_cancel once a handle exists")
	}
}

func TestCanCancelRequiresHandle(t *testing.T) {
	s := newTestState()
	id := begin(t, s)
	s.Apply(id, Connected{})
	if s.Status().CanCancel {
		t.Error("can_cancel advertised before a query handle exists")
	}
}

func TestTerminalOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		ev         Event
		kind       ResultKind
		status     string
		lastResult bool
	}{
		{"no data", Completed{Result: &engine.ResultSet{Columns: []string{"icao24"}}}, ResultNoData, NoDataMessage, false},
		{"success", Completed{Result: &engine.ResultSet{Columns: []string{"icao24", "callsign"}, Rows: [][]any{{"a", "b"}, {"c", "d"}}}}, ResultSuccess, StatusComplete, true},
		{"query error", Failed{Err: &engine.QueryError{Message: "boom"}}, ResultError, StatusError, false},
		{"connect error", Failed{Err: errors.New("refused"), Connect: true}, ResultError, StatusError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState()
			id := begin(t, s)
			if !s.Apply(id, tt.ev) {
				t.Fatal("expected terminal event to apply")
			}
			st := s.Status()
			if st.IsExecuting || !st.Complete || st.Result == nil {
				t.Fatalf("terminal invariant violated: %+v", st)
			}
			if st.Result.Kind != tt.kind || st.Status != tt.status {
				t.Errorf("got kind=%s status=%q", st.Result.Kind, st.Status)
			}
			if (s.LastResult() != nil) != tt.lastResult {
				t.Errorf("last result set = %v, want %v", s.LastResult() != nil, tt.lastResult)
			}
		})
	}
}

func TestSuccessCarriesRowsAndColumns(t *testing.T) {
	s := newTestState()
	id := begin(t, s)
	rs := &engine.ResultSet{Columns: []string{"icao24", "callsign"}, Rows: [][]any{{"a", "b"}, {"c", "d"}, {"e", "f"}}}
	s.Apply(id, Completed{Result: rs})

	res := s.Status().Result
	if res.RowCount != 3 || !reflect.DeepEqual(res.Columns, rs.Columns) {
		t.Errorf("unexpected result %+v", res)
	}
	if s.LastResult() != rs {
		t.Error("expected last result to be the engine result set")
	}
	last := s.Status().Logs[len(s.Status().Logs)-1]
	if !strings.HasSuffix(last, "Retrieved 3 rows") {
		t.Errorf("unexpected final log %q", last)
	}
}

func TestNoDataResult(t *testing.T) {
	s := newTestState()
	id := begin(t, s)
	s.Apply(id, Completed{Result: &engine.ResultSet{}})
	res := s.Status().Result
	if res.Kind != ResultNoData || res.RowCount != 0 || res.Message != NoDataMessage {
		t.Errorf("unexpected no-data result %+v", res)
	}
}

func TestFrozenAfterTerminal(t *testing.T) {
	s := newTestState()
	id := begin(t, s)
	s.Apply(id, Completed{Result: &engine.ResultSet{}})
	before := s.Execution()

	if s.Apply(id, Progressed{Progress: engine.Progress{State: "RUNNING", QueryID: "late"}}) {
		t.Error("expected progress after terminal to be ignored")
	}
	if s.Apply(id, Failed{Err: errors.New("late")}) {
		t.Error("expected second terminal to be ignored")
	}
	if !reflect.DeepEqual(before, s.Execution()) {
		t.Error("state changed after terminal result")
	}
}

func TestStaleRunEventsIgnored(t *testing.T) {
	s := newTestState()
	old := begin(t, s)
	s.Apply(old, Completed{Result: &engine.ResultSet{}})
	current := begin(t, s)

	if s.Apply(old, Logged{Message: "stale"}) {
		t.Error("expected event for previous run to be ignored")
	}
	if s.Execution().RunID != current {
		t.Error("run id changed")
	}
}

func TestCommitReturnsFinalState(t *testing.T) {
	s := newTestState()
	id := begin(t, s)
	s.Apply(id, Progressed{Progress: engine.Progress{State: "RUNNING", QueryID: "q1"}})

	final, ok := s.Commit(id, Completed{Result: &engine.ResultSet{Columns: []string{"icao24"}, Rows: [][]any{{"a"}}}})
	if !ok {
		t.Fatal("expected the terminal event to apply")
	}
	// The next run may begin as soon as the lock is released.
	next := begin(t, s)

	if final.RunID != id || final.IsExecuting || final.Status != StatusComplete || final.QueryID != "q1" {
		t.Errorf("unexpected final state %+v", final)
	}
	if final.Result == nil || final.Result.Kind != ResultSuccess || final.Result.RowCount != 1 {
		t.Errorf("unexpected final result %+v", final.Result)
	}
	if cur := s.Execution(); cur.RunID != next || !cur.IsExecuting {
		t.Errorf("unexpected current state %+v", cur)
	}
	if _, ok := s.Commit(id, Logged{Message: "late"}); ok {
		t.Error("expected events of the finished run to be ignored")
	}
}

func TestCancelNotRunning(t *testing.T) {
	s := newTestState()
	before := s.Execution()
	if _, _, err := s.RequestCancel(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Execution()) {
		t.Error("state changed on rejected cancel")
	}
}

func TestCancelFlow(t *testing.T) {
	s := newTestState()
	id := begin(t, s)
	s.Apply(id, Progressed{Progress: engine.Progress{State: "RUNNING", QueryID: "q1"}})

	gotID, qid, err := s.RequestCancel()
	if err != nil {
		t.Fatal(err)
	}
	if gotID != id || qid != "q1" {
		t.Errorf("got run=%s query=%s", gotID, qid)
	}
	if st := s.Status(); st.Status != StatusCancelling || !st.IsExecuting {
		t.Errorf("unexpected state while cancelling: %+v", st)
	}
	if _, _, err := s.RequestCancel(); !errors.Is(err, ErrCancelPending) {
		t.Errorf("expected ErrCancelPending, got %v", err)
	}

	// The run finishing while the remote cancel is in flight is discarded.
	if s.Apply(id, Completed{Result: &engine.ResultSet{Rows: [][]any{{1}}}}) {
		t.Error("expected result after cancel request to be discarded")
	}
	if s.LastResult() != nil {
		t.Error("discarded result must not become last result")
	}

	if _, ok := s.FinishCancel(id); !ok {
		t.Fatal("expected FinishCancel to apply")
	}
	st := s.Status()
	if st.IsExecuting || st.Status != StatusCancelled || st.Result.Kind != ResultCancelled || !st.Result.Cancelled {
		t.Errorf("unexpected cancelled state %+v", st)
	}
	if _, ok := s.FinishCancel(id); ok {
		t.Error("expected second FinishCancel to be a no-op")
	}
}

func TestRecentLogs(t *testing.T) {
	snap := StatusSnapshot{Logs: []string{"a", "b", "c", "d"}}
	got := snap.RecentLogs(3)
	if !reflect.DeepEqual(got, []string{"d", "c", "b"}) {
		t.Errorf("got %v", got)
	}
	if len(snap.RecentLogs(30)) != 4 {
		t.Error("expected all logs when fewer than limit")
	}
}

func TestParamsAccessors(t *testing.T) {
	s := newTestState()
	if s.QueryType() != query.DefaultType {
		t.Errorf("expected default query type, got %s", s.QueryType())
	}
	if _, err := s.SetParam("icao24", "3C6444"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetParam("nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	p, err := s.ApplyPreset(query.PresetYesterday)
	if err != nil {
		t.Fatal(err)
	}
	if p.Start != "2025-03-11 00:00:00" || p.ICAO24 != "3c6444" {
		t.Errorf("unexpected params %+v", p)
	}

	limit := 5
	s.SetParsed(&query.ParsedQuery{Type: query.RawData, Params: query.Params{Callsign: "AFR1", Limit: &limit}})
	if s.QueryType() != query.RawData || s.Params().ICAO24 != "" || *s.Params().Limit != 5 {
		t.Errorf("expected params replaced wholesale, got %+v", s.Params())
	}

	s.ClearParams()
	if !s.Params().IsEmpty() {
		t.Error("expected empty params after clear")
	}
}

func TestMessages(t *testing.T) {
	s := newTestState()
	s.AddMessage(RoleUser, "flights from EDDF", MessageText)
	s.AddMessage(RoleAssistant, "df = ...", MessageCode)
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[1].Type != MessageCode {
		t.Errorf("unexpected transcript %+v", msgs)
	}
	msgs[0].Content = "mutated"
	if s.Messages()[0].Content != "flights from EDDF" {
		t.Error("Messages must return a copy")
	}
	s.ClearMessages()
	if len(s.Messages()) != 0 {
		t.Error("expected empty transcript")
	}
}
