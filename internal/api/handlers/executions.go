package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/speechmentor/internal/audit"
	"github.com/nikhilbhutani/speechmentor/internal/auth"
	"github.com/nikhilbhutani/speechmentor/internal/execution"
)

type ExecutionReader interface {
	Get(ctx context.Context, id string) (*execution.Execution, error)
	RunningForSession(ctx context.Context, sessionKey string) (string, bool, error)
}

type HistoryReader interface {
	History(ctx context.Context, executionID string) ([]audit.Event, error)
}

type ExecutionHandler struct {
	store   ExecutionReader
	history HistoryReader
}

// NewExecutionHandler serves execution status. history may be nil, in which
// case History answers 404.
func NewExecutionHandler(store ExecutionReader, history HistoryReader) *ExecutionHandler {
	return &ExecutionHandler{store: store, history: history}
}

type executionResponse struct {
	ID            string             `json:"id"`
	Status        execution.Status   `json:"status"`
	DisplayStatus string             `json:"display_status"`
	State         string             `json:"state"`
	Context       execution.Context  `json:"context"`
	Failure       *execution.Failure `json:"failure,omitempty"`
	FinalOutput   string             `json:"final_output,omitempty"`
}

func toResponse(e *execution.Execution) executionResponse {
	resp := executionResponse{
		ID:            e.ID,
		Status:        e.Status,
		DisplayStatus: e.Status.DisplayStatus(),
		State:         e.State,
		Context:       e.Context,
		Failure:       e.Failure,
	}
	if e.Status == execution.StatusSucceeded && e.Context.FinalOutput != nil {
		resp.FinalOutput = *e.Context.FinalOutput
	}
	return resp
}

// Current reports the caller's running execution.
func (h *ExecutionHandler) Current(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	id, ok, err := h.store.RunningForSession(r.Context(), session)
	if err != nil {
		slog.Error("lookup running execution failed", "session", session, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"display_status": execution.Status("").DisplayStatus(),
		})
		return
	}
	h.render(w, r, id)
}

func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, chi.URLParam(r, "id"))
}

// History lists the execution's recorded transitions and model calls.
func (h *ExecutionHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history is not recorded")
		return
	}
	if _, ok := h.load(w, r, id); !ok {
		return
	}
	events, err := h.history.History(r.Context(), id)
	if err != nil {
		slog.Error("load execution history failed", "execution_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"execution_id": id, "events": events})
}

func (h *ExecutionHandler) render(w http.ResponseWriter, r *http.Request, id string) {
	if exec, ok := h.load(w, r, id); ok {
		writeJSON(w, http.StatusOK, toResponse(exec))
	}
}

// load fetches the execution and writes the error response itself when it
// cannot be shown to the caller.
func (h *ExecutionHandler) load(w http.ResponseWriter, r *http.Request, id string) (*execution.Execution, bool) {
	exec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, execution.ErrNotFound) {
		writeError(w, http.StatusNotFound, "execution not found")
		return nil, false
	}
	if err != nil {
		slog.Error("load execution failed", "execution_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load execution")
		return nil, false
	}
	// Executions are only visible to the session that uploaded them.
	if exec.SessionKey != auth.SessionFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "execution not found")
		return nil, false
	}
	return exec, true
}
