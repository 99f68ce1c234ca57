package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Service struct {
	jobs  JobStore
	queue Enqueuer
}

func NewService(jobs JobStore, queue Enqueuer) *Service {
	return &Service{jobs: jobs, queue: queue}
}

// Start is idempotent by job name. A job that is still QUEUED is handed to the
// queue again, so a caller retrying after an enqueue failure does not strand it.
func (s *Service) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.JobName == "" || req.MediaURI == "" {
		return "", fmt.Errorf("start transcription: job name and media uri are required")
	}

	now := time.Now().UTC()
	job := &Job{
		Name:         req.JobName,
		Status:       StatusQueued,
		MediaURI:     req.MediaURI,
		OutputBucket: req.OutputBucket,
		OutputKey:    req.OutputKey,
		LanguageCode: req.LanguageCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := s.jobs.Create(ctx, job)
	if err != nil {
		return "", fmt.Errorf("create transcription job: %w", err)
	}
	if !created {
		existing, err := s.jobs.Get(ctx, req.JobName)
		if err != nil {
			return "", fmt.Errorf("load transcription job: %w", err)
		}
		if existing.Status != StatusQueued {
			return existing.Name, nil
		}
	}

	if err := s.queue.EnqueueTranscription(ctx, req.JobName); err != nil {
		return "", fmt.Errorf("enqueue transcription job: %w", err)
	}
	slog.Info("transcription job started", "job", req.JobName, "media", req.MediaURI, "created", created)
	return req.JobName, nil
}

// processOwner is implemented by queues that run jobs in this process and
// so know which jobs have a live runner.
type processOwner interface {
	Owns(jobName string) bool
}

// Status reports the job. With an in-process queue, an unfinished job that no
// runner owns was interrupted by a restart and is handed to the queue again.
func (s *Service) Status(ctx context.Context, jobID string) (JobStatus, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return JobStatus{}, fmt.Errorf("transcription status %s: %w", jobID, err)
	}
	if owner, ok := s.queue.(processOwner); ok && !job.Status.Terminal() && !owner.Owns(job.Name) {
		slog.Warn("resuming orphaned transcription job", "job", job.Name, "status", job.Status)
		err := s.queue.EnqueueTranscription(ctx, job.Name)
		if err != nil && !errors.Is(err, ErrQueueFull) {
			return JobStatus{}, fmt.Errorf("resume transcription job %s: %w", job.Name, err)
		}
	}
	return JobStatus{
		JobID:         job.Name,
		Status:        job.Status,
		OutputBucket:  job.OutputBucket,
		OutputKey:     job.OutputKey,
		FailureReason: job.FailureReason,
	}, nil
}
