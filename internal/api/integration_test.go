//go:build integration

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/skyq/internal/delivery"
	"github.com/user/skyq/internal/engine/trino"
	"github.com/user/skyq/internal/orchestrator"
	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/state"
	"github.com/user/skyq/internal/types"
)

// coordinator answers every statement with one queued page and one page
// holding a single row.
func coordinator(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/info", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"starting":false}`))
	})
	mux.HandleFunc("POST /v1/statement", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "20250311_000000_00001_e2e",
			"nextUri": srv.URL + "/v1/statement/e2e/1",
			"stats":   map[string]any{"state": "QUEUED"},
		})
	})
	mux.HandleFunc("GET /v1/statement/e2e/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "20250311_000000_00001_e2e",
			"columns": []map[string]any{{"name": "icao24"}, {"name": "callsign"}},
			"data":    [][]any{{"3c6444", "DLH4AB"}},
			"stats":   map[string]any{"state": "FINISHED", "progressPercentage": 100},
		})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type inbox struct {
	mu   sync.Mutex
	msgs []string
}

func (b *inbox) deliver(_ types.OriginKey, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, message)
	return nil
}

func (b *inbox) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.msgs...)
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	trinoSrv := coordinator(t)

	engineClient := &http.Client{Timeout: 5 * time.Second}
	t.Cleanup(engineClient.CloseIdleConnections)
	eng := trino.New(trino.Config{BaseURL: trinoSrv.URL, PollInterval: time.Millisecond, HTTPClient: engineClient})

	history := state.NewHistoryStore(dir)
	saved := state.NewSavedQueryStore(filepath.Join(dir, "saved.json"))
	box := &inbox{}
	reg := delivery.NewRegistry()
	reg.Register("test", box.deliver)

	o := orchestrator.New(state.New(), eng, orchestrator.WithRecorder(history), orchestrator.WithNotifier(reg))
	o.Start(context.Background())
	t.Cleanup(o.Stop)

	apiSrv := httptest.NewServer(NewServer(o, WithHistory(history), WithSavedQueries(saved, nil)))
	t.Cleanup(apiSrv.Close)
	client := &http.Client{Timeout: 5 * time.Second}
	t.Cleanup(client.CloseIdleConnections)

	call := func(method, path, body string, want int, out any) {
		t.Helper()
		req, err := http.NewRequest(method, apiSrv.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		if body == "" {
			req.Body = http.NoBody
			req.ContentLength = 0
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s %s: expected status %d, got %d", method, path, want, resp.StatusCode)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				t.Fatal(err)
			}
		}
	}
	waitDone := func() state.StatusSnapshot {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for {
			var snap state.StatusSnapshot
			call(http.MethodGet, "/api/status", "", http.StatusOK, &snap)
			if snap.Complete && !snap.IsExecuting {
				return snap
			}
			if time.Now().After(deadline) {
				t.Fatalf("run did not finish: %+v", snap)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	call(http.MethodPut, "/api/params/icao24", `{"value":"3C6444"}`, http.StatusOK, nil)
	call(http.MethodPut, "/api/params/start", `{"value":"2025-03-11 00:00:00"}`, http.StatusOK, nil)
	call(http.MethodPost, "/api/execute", "", http.StatusAccepted, nil)

	snap := waitDone()
	if snap.Status != state.StatusComplete || snap.Result.RowCount != 1 {
		t.Fatalf("unexpected status %+v", snap)
	}
	if snap.QueryID != "20250311_000000_00001_e2e" {
		t.Errorf("unexpected query id %q", snap.QueryID)
	}

	if err := saved.Add(&state.SavedQuery{
		Name:    "nightly",
		Type:    query.Trajectory,
		Params:  query.Params{ICAO24: "3c6444"},
		Preset:  query.PresetLastHour,
		Notify:  "test:inbox",
		Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}
	call(http.MethodPost, "/api/saved/nightly/run", "", http.StatusAccepted, nil)
	waitDone()

	deadline := time.Now().Add(5 * time.Second)
	for len(box.all()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("completion notice not delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := box.all()[0]; got != "trajectory query finished: retrieved 1 rows (Trino query 20250311_000000_00001_e2e)" {
		t.Errorf("unexpected notice %q", got)
	}

	var records []*state.RunRecord
	call(http.MethodGet, "/api/history", "", http.StatusOK, &records)
	if len(records) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(records))
	}
	if records[0].Origin != "http" || records[1].Origin != "http:nightly" {
		t.Errorf("unexpected origins %q, %q", records[0].Origin, records[1].Origin)
	}
}
