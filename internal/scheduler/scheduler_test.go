package scheduler

import (
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/state"
)

func newStore(t *testing.T, saved ...*state.SavedQuery) *state.SavedQueryStore {
	t.Helper()
	store := state.NewSavedQueryStore(filepath.Join(t.TempDir(), "saved_queries.json"))
	for _, q := range saved {
		if err := store.Add(q); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestSchedulerFiresSavedQuery(t *testing.T) {
	store := newStore(t, &state.SavedQuery{
		Name:     "every-second",
		Type:     query.Trajectory,
		Params:   query.Params{ICAO24: "3c6444"},
		Schedule: "* * * * * *",
		Preset:   query.PresetLastHour,
		Enabled:  true,
	})

	fired := make(chan *state.SavedQuery, 4)
	sched := New(store, func(q *state.SavedQuery) {
		select {
		case fired <- q:
		default:
		}
	})
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	select {
	case q := <-fired:
		if q.Name != "every-second" || q.Type != query.Trajectory || q.Params.ICAO24 != "3c6444" {
			t.Errorf("unexpected saved query %+v", q)
		}
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("handler did not fire within 2.5s")
	}
}

func TestSchedulerSkipsDisabledAndUnscheduled(t *testing.T) {
	store := newStore(t,
		&state.SavedQuery{Name: "disabled", Schedule: "* * * * * *", Enabled: false},
		&state.SavedQuery{Name: "on-demand", Enabled: true},
		&state.SavedQuery{Name: "broken", Schedule: "not a cron", Enabled: true},
	)

	var fires atomic.Int32
	sched := New(store, func(*state.SavedQuery) { fires.Add(1) })
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	if names := sched.Scheduled(); len(names) != 0 {
		t.Errorf("expected nothing scheduled, got %v", names)
	}
	time.Sleep(1500 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Errorf("expected 0 fires, got %d", n)
	}
}

func TestSchedulerReload(t *testing.T) {
	store := newStore(t, &state.SavedQuery{Name: "nightly", Schedule: "0 2 * * *", Enabled: true})
	sched := New(store, func(*state.SavedQuery) {})
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	if err := store.Add(&state.SavedQuery{Name: "hourly", Schedule: "@hourly", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := sched.Reload(); err != nil {
		t.Fatal(err)
	}
	names := sched.Scheduled()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "hourly" || names[1] != "nightly" {
		t.Errorf("unexpected schedule after reload: %v", names)
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, expr := range []string{"0 6 * * *", "*/30 * * * * *", "@daily"} {
		if err := ValidateSchedule(expr); err != nil {
			t.Errorf("%q: unexpected error %v", expr, err)
		}
	}
	if err := ValidateSchedule("every morning"); err == nil {
		t.Error("expected error for invalid expression")
	}
}
