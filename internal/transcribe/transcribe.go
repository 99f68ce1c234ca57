// Package transcribe runs speech-to-text as an asynchronous job: Start
// registers the job and hands it to a queue, Status reports its progress, and
// a Runner on the worker side does the actual transcription.
package transcribe

import (
	"context"
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("transcription job not found")

type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type StartRequest struct {
	JobName      string
	MediaURI     string
	OutputBucket string
	OutputKey    string
	LanguageCode string
}

type JobStatus struct {
	JobID         string
	Status        Status
	OutputBucket  string
	OutputKey     string
	FailureReason string
}

type Job struct {
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	MediaURI      string    `json:"media_uri"`
	OutputBucket  string    `json:"output_bucket"`
	OutputKey     string    `json:"output_key"`
	LanguageCode  string    `json:"language_code"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Client is the caller-side view of the transcription service.
type Client interface {
	Start(ctx context.Context, req StartRequest) (string, error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
}

// JobStore keeps job records. Create must not overwrite an existing job.
type JobStore interface {
	Create(ctx context.Context, job *Job) (bool, error)
	Get(ctx context.Context, name string) (*Job, error)
	Put(ctx context.Context, job *Job) error
}

// Enqueuer schedules a job for the runner.
type Enqueuer interface {
	EnqueueTranscription(ctx context.Context, jobName string) error
}
