package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/nikhilbhutani/speechmentor/internal/storage"
)

// Transcriber turns media bytes into text.
type Transcriber interface {
	Transcribe(ctx context.Context, media io.Reader, filename, languageCode string) (string, error)
}

// Runner executes queued jobs. Errors it returns are transient and should be
// retried; permanent problems are recorded on the job as FAILED instead.
type Runner struct {
	jobs  JobStore
	blobs storage.Storage
	stt   Transcriber
}

func NewRunner(jobs JobStore, blobs storage.Storage, stt Transcriber) *Runner {
	return &Runner{jobs: jobs, blobs: blobs, stt: stt}
}

func (r *Runner) Run(ctx context.Context, name string) error {
	job, err := r.jobs.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			slog.Warn("transcription job vanished", "job", name)
			return nil
		}
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	if job.Status != StatusInProgress {
		if err := r.setStatus(ctx, job, StatusInProgress, ""); err != nil {
			return err
		}
	}

	bucket, key, err := storage.ParseURI(job.MediaURI)
	if err != nil {
		return r.Fail(ctx, name, "The media location is invalid.")
	}
	media, err := r.blobs.Get(ctx, bucket, key)
	if errors.Is(err, storage.ErrNotFound) {
		return r.Fail(ctx, name, "The media file could not be found.")
	}
	if err != nil {
		return fmt.Errorf("read media %s: %w", job.MediaURI, err)
	}

	text, err := r.stt.Transcribe(ctx, bytes.NewReader(media), path.Base(key), job.LanguageCode)
	if err != nil {
		return fmt.Errorf("transcribe %s: %w", name, err)
	}

	doc, err := EncodeResult(name, text)
	if err != nil {
		return err
	}
	if err := r.blobs.Put(ctx, job.OutputBucket, job.OutputKey, doc, "application/json"); err != nil {
		return fmt.Errorf("write transcription result: %w", err)
	}

	slog.Info("transcription completed", "job", name, "chars", len(text))
	return r.setStatus(ctx, job, StatusCompleted, "")
}

// Fail marks the job FAILED. Called for permanent errors and when the queue
// gives up retrying.
func (r *Runner) Fail(ctx context.Context, name, reason string) error {
	job, err := r.jobs.Get(ctx, name)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	slog.Warn("transcription failed", "job", name, "reason", reason)
	return r.setStatus(ctx, job, StatusFailed, reason)
}

func (r *Runner) setStatus(ctx context.Context, job *Job, status Status, reason string) error {
	job.Status = status
	job.FailureReason = reason
	job.UpdatedAt = time.Now().UTC()
	if err := r.jobs.Put(ctx, job); err != nil {
		return fmt.Errorf("update transcription job %s: %w", job.Name, err)
	}
	return nil
}
