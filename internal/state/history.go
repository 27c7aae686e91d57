package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/types"
)

// RunRecord is one finished run in the history log.
type RunRecord struct {
	RunID      types.RunID      `json:"run_id"`
	Seq        int64            `json:"seq"`
	Origin     types.OriginKey  `json:"origin,omitempty"`
	Type       query.Type       `json:"query_type"`
	Params     query.Params     `json:"params"`
	QueryID    string           `json:"query_id,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Result     *ExecutionResult `json:"result"`
}

// RecordFromExecution builds a history record from a finished run.
func RecordFromExecution(e ExecutionState, origin types.OriginKey) *RunRecord {
	return &RunRecord{
		RunID:      e.RunID,
		Origin:     origin,
		Type:       e.QueryType,
		Params:     e.Params.Clone(),
		QueryID:    e.QueryID,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		Result:     e.Result.clone(),
	}
}

// HistoryStore is a JSONL-backed append-only log of finished runs, stored
// in runs.jsonl under its root directory.
type HistoryStore struct {
	root string
	mu   sync.Mutex
}

// NewHistoryStore creates a history store rooted at the given directory.
func NewHistoryStore(root string) *HistoryStore {
	return &HistoryStore{root: root}
}

func (h *HistoryStore) path() string {
	return filepath.Join(h.root, "runs.jsonl")
}

// count reads the log and counts lines. Caller must hold the lock.
func (h *HistoryStore) count() (int64, error) {
	f, err := os.Open(h.path())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan history file: %w", err)
	}
	return count, nil
}

// Append adds a record with an auto-incremented sequence number.
func (h *HistoryStore) Append(_ context.Context, rec *RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(h.root, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	existing, err := h.count()
	if err != nil {
		return err
	}
	rec.Seq = existing + 1

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	f, err := os.OpenFile(h.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}

// Tail returns the last limit records, oldest first.
func (h *HistoryStore) Tail(_ context.Context, limit int) ([]*RunRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var records []*RunRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal run record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history file: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Count returns the number of recorded runs.
func (h *HistoryStore) Count(_ context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count()
}

// Clear removes every record.
func (h *HistoryStore) Clear(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := os.Remove(h.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove history file: %w", err)
	}
	return nil
}
