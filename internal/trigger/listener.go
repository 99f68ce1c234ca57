package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nikhilbhutani/speechmentor/internal/execution"
	"github.com/nikhilbhutani/speechmentor/internal/workflow"
)

type Starter interface {
	Start(ctx context.Context, bucket, objectKey string) (*execution.Execution, bool, error)
}

// Marker remembers recently seen objects so redelivered events are dropped
// cheaply.
type Marker interface {
	Mark(ctx context.Context, key string) (bool, error)
	Unmark(ctx context.Context, key string) error
}

type Result struct {
	ExecutionID string `json:"execution_id,omitempty"`
	Created     bool   `json:"created"`
	Ignored     bool   `json:"ignored,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type Listener struct {
	prefix  string
	starter Starter
	marker  Marker
}

// NewListener builds a listener for objects under prefix. marker may be nil.
func NewListener(prefix string, starter Starter, marker Marker) *Listener {
	return &Listener{prefix: prefix, starter: starter, marker: marker}
}

func (l *Listener) Prefix() string { return l.prefix }

// Handle starts at most one execution per object.
func (l *Listener) Handle(ctx context.Context, ev Event) (Result, error) {
	if !strings.HasPrefix(ev.ObjectKey, l.prefix) {
		return Result{Ignored: true, Reason: "outside " + l.prefix}, nil
	}
	if strings.HasSuffix(ev.ObjectKey, "/") {
		return Result{Ignored: true, Reason: "folder placeholder"}, nil
	}

	markKey := ev.Bucket + "/" + ev.ObjectKey
	marked := false
	if l.marker != nil {
		first, err := l.marker.Mark(ctx, markKey)
		switch {
		case err != nil:
			// The store still deduplicates; carry on without the fast path.
			slog.Warn("trigger dedup mark failed", "key", markKey, "error", err)
		case !first:
			return Result{ExecutionID: workflow.ExecutionID(ev.Bucket, ev.ObjectKey), Reason: "duplicate"}, nil
		default:
			marked = true
		}
	}

	exec, created, err := l.starter.Start(ctx, ev.Bucket, ev.ObjectKey)
	if err != nil {
		if marked {
			if uerr := l.marker.Unmark(ctx, markKey); uerr != nil {
				slog.Warn("trigger dedup unmark failed", "key", markKey, "error", uerr)
			}
		}
		return Result{}, fmt.Errorf("start execution: %w", err)
	}

	res := Result{ExecutionID: exec.ID, Created: created}
	if !created {
		res.Reason = "duplicate"
	}
	return res, nil
}
