// Package notify delivers the finished speech feedback to the user.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

const EventFeedbackReady = "speech.feedback_ready"

type Message struct {
	ExecutionID string `json:"execution_id"`
	SessionKey  string `json:"session_key,omitempty"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// Publisher makes a single delivery attempt.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Multi fans a message out to every publisher. It fails when any of them
// fails, after trying all.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher only logs. Used when no channel is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, msg Message) error {
	slog.Info("notification", "execution_id", msg.ExecutionID, "session", msg.SessionKey,
		"subject", msg.Subject, "body_chars", len(msg.Body))
	return nil
}
