package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/speechmentor/internal/trigger"
)

const maxEventBytes = 1 << 20

type EventListener interface {
	Handle(ctx context.Context, ev trigger.Event) (trigger.Result, error)
}

type EventHandler struct {
	listener EventListener
}

func NewEventHandler(l EventListener) *EventHandler {
	return &EventHandler{listener: l}
}

// ObjectCreated accepts a storage notification. 202 means a new execution was
// started; duplicates and filtered objects get 200.
func (h *EventHandler) ObjectCreated(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "event body too large")
		return
	}
	ev, err := trigger.ParseEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.listener.Handle(r.Context(), ev)
	if err != nil {
		slog.Error("object-created event failed", "bucket", ev.Bucket, "key", ev.ObjectKey, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start execution")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}
