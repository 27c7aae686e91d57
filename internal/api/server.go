// Package api exposes the query workflow over HTTP: parameter editing, the
// chat assistant, execution control and status polling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/user/skyq/internal/assistant"
	"github.com/user/skyq/internal/orchestrator"
	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/scheduler"
	"github.com/user/skyq/internal/state"
	"github.com/user/skyq/internal/types"
)

// StatusLogLimit caps the log lines returned by the status endpoint,
// newest first.
const StatusLogLimit = 30

// ModelLister returns the models available for the configured provider.
type ModelLister func(ctx context.Context) ([]string, error)

// Server is the HTTP handler for the skyq API.
type Server struct {
	orch       *orchestrator.Orchestrator
	state      *state.AppState
	chat       *assistant.Assistant
	saved      *state.SavedQueryStore
	history    *state.HistoryStore
	onSaved    func() error
	listModels ModelLister
	now        func() time.Time
	mux        *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithAssistant enables the chat and agent endpoints.
func WithAssistant(a *assistant.Assistant) Option {
	return func(s *Server) { s.chat = a }
}

// WithSavedQueries enables the saved query endpoints. onChange, when not
// nil, is called after every change, typically to reload the scheduler.
func WithSavedQueries(store *state.SavedQueryStore, onChange func() error) Option {
	return func(s *Server) {
		s.saved = store
		s.onSaved = onChange
	}
}

// WithHistory enables the run history endpoint.
func WithHistory(h *state.HistoryStore) Option {
	return func(s *Server) { s.history = h }
}

// WithModelLister enables the model listing endpoint.
func WithModelLister(fn ModelLister) Option {
	return func(s *Server) { s.listModels = fn }
}

// NewServer creates a Server driving orch.
func NewServer(orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orch:  orch,
		state: orch.State(),
		now:   time.Now,
		mux:   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/params", s.handleGetParams)
	s.mux.HandleFunc("PUT /api/params", s.handlePutParams)
	s.mux.HandleFunc("DELETE /api/params", s.handleClearParams)
	s.mux.HandleFunc("PUT /api/params/{key}", s.handleSetParam)
	s.mux.HandleFunc("PUT /api/type", s.handleSetType)
	s.mux.HandleFunc("GET /api/presets", s.handlePresets)
	s.mux.HandleFunc("POST /api/presets/{name}", s.handleApplyPreset)
	s.mux.HandleFunc("GET /api/preview", s.handlePreview)

	s.mux.HandleFunc("GET /api/messages", s.handleMessages)
	s.mux.HandleFunc("POST /api/messages", s.handleSend)
	s.mux.HandleFunc("DELETE /api/messages", s.handleClearMessages)
	s.mux.HandleFunc("GET /api/agent", s.handleAgent)
	s.mux.HandleFunc("GET /api/models", s.handleModels)

	s.mux.HandleFunc("POST /api/execute", s.handleExecute)
	s.mux.HandleFunc("POST /api/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/result", s.handleResult)

	s.mux.HandleFunc("GET /api/saved", s.handleListSaved)
	s.mux.HandleFunc("POST /api/saved", s.handleAddSaved)
	s.mux.HandleFunc("DELETE /api/saved/{name}", s.handleRemoveSaved)
	s.mux.HandleFunc("POST /api/saved/{name}/run", s.handleRunSaved)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type paramsBody struct {
	Params    query.Params `json:"params"`
	QueryType query.Type   `json:"query_type"`
}

func (s *Server) currentParams() paramsBody {
	return paramsBody{Params: s.state.Params(), QueryType: s.state.QueryType()}
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentParams())
}

func (s *Server) handlePutParams(w http.ResponseWriter, r *http.Request) {
	var body paramsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.QueryType != "" {
		t, err := query.ParseType(string(body.QueryType))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.state.SetQueryType(t)
	}
	s.state.SetParams(body.Params)
	writeJSON(w, http.StatusOK, s.currentParams())
}

func (s *Server) handleClearParams(w http.ResponseWriter, r *http.Request) {
	s.state.ClearParams()
	writeJSON(w, http.StatusOK, s.currentParams())
}

type valueBody struct {
	Value string `json:"value"`
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	var body valueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, err := s.state.SetParam(r.PathValue("key"), body.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.currentParams())
}

func (s *Server) handleSetType(w http.ResponseWriter, r *http.Request) {
	var body struct {
		QueryType string `json:"query_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	t, err := query.ParseType(body.QueryType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.state.SetQueryType(t)
	writeJSON(w, http.StatusOK, s.currentParams())
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"presets": query.Presets})
}

func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	if _, err := s.state.ApplyPreset(r.PathValue("name")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.currentParams())
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, t := s.state.Params(), s.state.QueryType()
	writeJSON(w, http.StatusOK, map[string]string{
		"preview":     query.Preview(p, t),
		"description": query.Describe(p),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.state.Messages()})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	s.state.ClearMessages()
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.state.Messages()})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant not configured")
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	reply, err := s.chat.Send(r.Context(), body.Message)
	if err != nil {
		slog.Error("assistant send failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeJSON(w, http.StatusOK, state.AgentInfo{})
		return
	}
	info, err := s.chat.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.listModels == nil {
		writeError(w, http.StatusServiceUnavailable, "model listing not configured")
		return
	}
	models, err := s.listModels(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"models": models})
}

// handleExecute runs the body's query, or the current parameters when the
// body is empty.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body := s.currentParams()
	if r.ContentLength != 0 {
		var req paramsBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		body.Params = req.Params
		if req.QueryType != "" {
			t, err := query.ParseType(string(req.QueryType))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			body.QueryType = t
		}
	}

	id, err := s.orch.Execute(body.Params, body.QueryType, orchestrator.WithOrigin(types.NewOriginKey("http")))
	if err != nil {
		writeError(w, executeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": string(id), "status": "started"})
}

func executeStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Cancel(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Status()
	snap.Logs = snap.RecentLogs(StatusLogLimit)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res := s.state.LastResult()
	if res == nil {
		writeError(w, http.StatusNotFound, "no result")
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	rows := res.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"columns":   res.Columns,
		"rows":      rows,
		"row_count": res.RowCount(),
	})
}

func (s *Server) handleListSaved(w http.ResponseWriter, r *http.Request) {
	if s.saved == nil {
		writeError(w, http.StatusServiceUnavailable, "saved queries not configured")
		return
	}
	saved, err := s.saved.List()
	if err != nil {
		slog.Error("list saved queries failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAddSaved(w http.ResponseWriter, r *http.Request) {
	if s.saved == nil {
		writeError(w, http.StatusServiceUnavailable, "saved queries not configured")
		return
	}
	var q state.SavedQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if q.Schedule != "" {
		if err := scheduler.ValidateSchedule(q.Schedule); err != nil {
			writeError(w, http.StatusBadRequest, "invalid schedule: "+err.Error())
			return
		}
	}
	if q.Preset != "" {
		if _, _, err := query.Preset(q.Preset, s.now()); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := s.saved.Add(&q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.savedChanged()
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleRemoveSaved(w http.ResponseWriter, r *http.Request) {
	if s.saved == nil {
		writeError(w, http.StatusServiceUnavailable, "saved queries not configured")
		return
	}
	if err := s.saved.Remove(r.PathValue("name")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.savedChanged()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) savedChanged() {
	if s.onSaved == nil {
		return
	}
	if err := s.onSaved(); err != nil {
		slog.Error("saved query reload failed", "error", err)
	}
}

func (s *Server) handleRunSaved(w http.ResponseWriter, r *http.Request) {
	if s.saved == nil {
		writeError(w, http.StatusServiceUnavailable, "saved queries not configured")
		return
	}
	name := r.PathValue("name")
	q, err := s.saved.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	id, err := s.orch.ExecuteSaved(q, s.now(), types.NewOriginKey("http", name))
	if err != nil {
		writeError(w, executeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": string(id), "status": "started"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.history.Tail(r.Context(), limit)
	if err != nil {
		slog.Error("tail history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []*state.RunRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
