// Package scheduler fires saved queries on their cron schedules.
package scheduler

import (
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/user/skyq/internal/state"
)

// Handler is called each time a saved query's schedule fires.
type Handler func(q *state.SavedQuery)

// Scheduler registers enabled saved queries that have a schedule as cron
// entries and fires them through a handler.
type Scheduler struct {
	store   *state.SavedQueryStore
	handler Handler

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr is an accepted cron expression.
func ValidateSchedule(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// New creates a Scheduler backed by store.
func New(store *state.SavedQueryStore, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// Start loads saved queries, registers the scheduled ones and starts the
// cron ticker. Invalid schedules are logged and skipped.
func (s *Scheduler) Start() error {
	saved, err := s.store.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]cron.EntryID)

	for _, q := range saved {
		if q.Schedule == "" || !q.Enabled {
			continue
		}
		q := q
		id, err := s.cron.AddFunc(q.Schedule, func() {
			slog.Info("cron firing saved query", "name", q.Name, "query_type", string(q.Type))
			s.handler(q)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", q.Name, "schedule", q.Schedule, "error", err)
			continue
		}
		s.entries[q.Name] = id
		slog.Info("scheduled saved query", "name", q.Name, "schedule", q.Schedule)
	}

	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one and starts it again
// from the store.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	<-s.cron.Stop().Done()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.mu.Unlock()
	return s.Start()
}

// Scheduled returns the names of the registered saved queries.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Stop stops the cron ticker and waits for running handlers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}
