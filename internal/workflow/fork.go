package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/speechmentor/internal/execution"
	"github.com/nikhilbhutani/speechmentor/internal/notify"
	"github.com/nikhilbhutani/speechmentor/internal/observe"
	"github.com/nikhilbhutani/speechmentor/internal/prompt"
)

const notificationSubject = "Speech Feedback"

// fork runs the transcript-storage branch and the feedback branch in
// parallel. Only the feedback branch can fail the execution.
func (e *Engine) fork(ctx context.Context, r *run) (Transition, error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.storeTranscript(gctx, ctx, r)
		return nil
	})
	g.Go(func() error {
		return e.feedbackBranch(gctx, ctx, r)
	})

	if err := g.Wait(); err != nil {
		return Transition{}, err
	}
	return Transition{Next: StateJoin}, nil
}

// record mutates the context under the run lock and checkpoints it. It uses
// persistCtx so a sibling failure cancelling the branch does not lose the
// write.
func (e *Engine) record(persistCtx context.Context, r *run, mutate func(c *execution.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(&r.exec.Context)
	if err := e.store.UpdateContext(persistCtx, r.exec.ID, r.exec.State, nil, r.exec.Context); err != nil {
		return fmt.Errorf("checkpoint branch output: %w", err)
	}
	return nil
}

func (e *Engine) storeTranscript(ctx, persistCtx context.Context, r *run) {
	c := r.view()
	if c.StoredTranscript != nil {
		return
	}
	ctx, span := observe.StartSpan(ctx, "workflow.store_transcript")
	defer span.End()

	bucket := e.outputBucket(c.Trigger)
	key := TranscriptKey(c.Trigger.ObjectKey)
	err := e.call(ctx, "blob.put", func(ctx context.Context) error {
		return e.blobs.Put(ctx, bucket, key, []byte(c.Transcript.Text), "text/plain; charset=utf-8")
	})

	stored := &execution.StoredTranscript{Bucket: bucket, Key: key}
	if err != nil {
		observe.Logger(ctx).Warn("storing transcript failed", "execution_id", r.exec.ID, "key", key, "error", err)
		stored.Error = "The transcript could not be stored."
	}
	if err := e.record(persistCtx, r, func(c *execution.Context) { c.StoredTranscript = stored }); err != nil {
		observe.Logger(ctx).Warn("recording transcript location failed", "execution_id", r.exec.ID, "error", err)
	}
}

func (e *Engine) feedbackBranch(ctx, persistCtx context.Context, r *run) error {
	c := r.view()
	transcript := c.Transcript.Text
	objectKey := c.Trigger.ObjectKey

	feedback := c.Feedback
	if feedback == nil {
		req := e.prompts.FeedbackRequest(transcript)
		req.Label = modelLabel(r.exec.ID, objectKey, "speech_feedback")
		text, err := e.invoke(ctx, "model.feedback", req.Label, func(ctx context.Context) (string, error) {
			return e.model.Invoke(ctx, req)
		})
		if err != nil {
			return err
		}
		feedback = &execution.ModelOutput{Text: text}
		if err := e.record(persistCtx, r, func(c *execution.Context) { c.Feedback = feedback }); err != nil {
			return err
		}
	}

	rewrite := c.Rewrite
	if rewrite == nil {
		req := e.prompts.RewriteRequest(transcript, feedback.Text)
		req.Label = modelLabel(r.exec.ID, objectKey, "speech_rewrite")
		text, err := e.invoke(ctx, "model.rewrite", req.Label, func(ctx context.Context) (string, error) {
			return e.model.Invoke(ctx, req)
		})
		if err != nil {
			return err
		}
		rewrite = &execution.ModelOutput{Text: text}
		if err := e.record(persistCtx, r, func(c *execution.Context) { c.Rewrite = rewrite }); err != nil {
			return err
		}
	}

	combined := c.Combined
	if combined == nil {
		combined = &execution.ModelOutput{Text: prompt.Combine(feedback.Text, rewrite.Text)}
		if err := e.record(persistCtx, r, func(c *execution.Context) { c.Combined = combined }); err != nil {
			return err
		}
	}

	if c.Notification == nil {
		n := e.publish(ctx, r, combined.Text)
		if err := e.record(persistCtx, r, func(c *execution.Context) { c.Notification = n }); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) invoke(ctx context.Context, op, label string, fn func(ctx context.Context) (string, error)) (string, error) {
	ctx, span := observe.StartSpan(ctx, "workflow."+op)
	defer span.End()

	var text string
	err := e.call(ctx, op, func(ctx context.Context) error {
		var err error
		text, err = fn(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	observe.Logger(ctx).Info("model output received", "label", label, "chars", len(text))
	return text, nil
}

// publish makes one delivery attempt. Failure is recorded, never fatal.
func (e *Engine) publish(ctx context.Context, r *run, body string) *execution.Notification {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	err := e.publisher.Publish(pctx, notify.Message{
		ExecutionID: r.exec.ID,
		SessionKey:  r.exec.SessionKey,
		Subject:     notificationSubject,
		Body:        body,
	})
	n := &execution.Notification{Published: err == nil, At: e.now().UTC()}
	if err != nil {
		observe.Logger(ctx).Warn("notification failed", "execution_id", r.exec.ID, "error", err)
		n.Error = "The notification could not be delivered."
	}
	return n
}
