package workflow

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/speechmentor/internal/execution"
	"github.com/nikhilbhutani/speechmentor/internal/observe"
	"github.com/nikhilbhutani/speechmentor/internal/storage"
	"github.com/nikhilbhutani/speechmentor/internal/transcribe"
)

// step executes the current state and returns the next one. A stage whose
// context namespace is already populated is skipped, so replaying a state
// after a crash never repeats completed work.
func (e *Engine) step(ctx context.Context, r *run) (Transition, error) {
	switch State(r.exec.State) {
	case StateStartTranscription:
		return e.startTranscription(ctx, r)
	case StateWait:
		return Transition{Next: StatePollStatus}, nil
	case StatePollStatus:
		return e.pollStatus(ctx, r)
	case StateEvaluate:
		return e.evaluate(r)
	case StateFetchTranscript:
		return e.fetchTranscript(ctx, r)
	case StateFork:
		return e.fork(ctx, r)
	case StateJoin:
		return e.join(r)
	case StateSucceeded:
		return Transition{Next: StateSucceeded}, nil
	default:
		return Transition{}, &StageError{Kind: execution.InfrastructureError, Op: "step",
			Err: fmt.Errorf("unknown state %q", r.exec.State)}
	}
}

func (e *Engine) outputBucket(trigger *execution.Trigger) string {
	if e.cfg.OutputBucket != "" {
		return e.cfg.OutputBucket
	}
	return trigger.Bucket
}

func (e *Engine) startTranscription(ctx context.Context, r *run) (Transition, error) {
	c := &r.exec.Context
	if c.Transcription != nil && c.Transcription.JobID != "" {
		return Transition{Next: StateWait, Delay: e.cfg.PollInterval}, nil
	}

	trig := c.Trigger
	req := transcribe.StartRequest{
		JobName:      r.exec.ID,
		MediaURI:     storage.URI(trig.Bucket, trig.ObjectKey),
		OutputBucket: e.outputBucket(trig),
		OutputKey:    TranscriptionOutputKey(trig.ObjectKey),
		LanguageCode: e.cfg.LanguageCode,
	}
	var jobID string
	err := e.call(ctx, "transcription.start", func(ctx context.Context) error {
		var err error
		jobID, err = e.stt.Start(ctx, req)
		return err
	})
	if err != nil {
		return Transition{}, err
	}

	c.Transcription = &execution.Transcription{
		JobID:        jobID,
		JobName:      req.JobName,
		Status:       string(transcribe.StatusQueued),
		OutputBucket: req.OutputBucket,
		OutputKey:    req.OutputKey,
	}
	return Transition{Next: StateWait, Delay: e.cfg.PollInterval}, nil
}

func (e *Engine) pollStatus(ctx context.Context, r *run) (Transition, error) {
	t := r.exec.Context.Transcription
	if t == nil {
		return Transition{}, &StageError{Kind: execution.InfrastructureError, Op: "transcription.status",
			Err: fmt.Errorf("no transcription job recorded")}
	}

	var st transcribe.JobStatus
	err := e.call(ctx, "transcription.status", func(ctx context.Context) error {
		var err error
		st, err = e.stt.Status(ctx, t.JobID)
		return err
	})
	if err != nil {
		return Transition{}, err
	}

	t.Status = string(st.Status)
	t.Polls++
	t.FailureReason = st.FailureReason
	if st.OutputKey != "" {
		t.OutputBucket, t.OutputKey = st.OutputBucket, st.OutputKey
	}
	if e.metrics != nil {
		e.metrics.RecordPoll(ctx, t.Status)
	}
	return Transition{Next: StateEvaluate}, nil
}

func (e *Engine) evaluate(r *run) (Transition, error) {
	t := r.exec.Context.Transcription
	switch transcribe.Status(t.Status) {
	case transcribe.StatusCompleted:
		return Transition{Next: StateFetchTranscript}, nil
	case transcribe.StatusFailed:
		return Transition{}, &StageError{Kind: execution.TranscriptionFailed, Op: "evaluate",
			Err: fmt.Errorf("job %s failed: %s", t.JobID, t.FailureReason)}
	default:
		return Transition{Next: StateWait, Delay: e.cfg.PollInterval}, nil
	}
}

func (e *Engine) fetchTranscript(ctx context.Context, r *run) (Transition, error) {
	c := &r.exec.Context
	if c.Transcript != nil {
		return Transition{Next: StateFork}, nil
	}
	t := c.Transcription

	var data []byte
	err := e.call(ctx, "blob.get", func(ctx context.Context) error {
		var err error
		data, err = e.blobs.Get(ctx, t.OutputBucket, t.OutputKey)
		return err
	})
	if err != nil {
		return Transition{}, err
	}
	text, err := transcribe.ParseResult(data)
	if err != nil {
		return Transition{}, &StageError{Kind: execution.InfrastructureError, Op: "transcript.parse", Err: err}
	}

	transcript := &execution.Transcript{Text: text, Bucket: t.OutputBucket, Key: t.OutputKey}
	if e.scanner != nil {
		res, err := e.scanner.Scan(ctx, text)
		if err != nil {
			observe.Logger(ctx).Warn("transcript scan failed", "execution_id", r.exec.ID, "error", err)
		} else if len(res.Flags) > 0 {
			transcript.InjectionFlags = res.Flags
			observe.Logger(ctx).Info("transcript flagged", "execution_id", r.exec.ID, "flags", res.Flags)
		}
	}
	c.Transcript = transcript
	return Transition{Next: StateFork}, nil
}

func (e *Engine) join(r *run) (Transition, error) {
	c := &r.exec.Context
	if c.Combined == nil {
		return Transition{}, &StageError{Kind: execution.InfrastructureError, Op: "join",
			Err: fmt.Errorf("feedback branch produced no output")}
	}
	final := c.Combined.Text
	c.FinalOutput = &final
	return Transition{Next: StateSucceeded}, nil
}
