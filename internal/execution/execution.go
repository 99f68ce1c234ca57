// Package execution holds the durable record of one speech-mentor workflow
// run and the stores that persist it.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("execution not found")
	ErrTerminal = errors.New("execution already finished")
)

type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// DisplayStatus is the text shown to the user for s.
func (s Status) DisplayStatus() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	default:
		return "Not started"
	}
}

type FailureKind string

const (
	InfrastructureError FailureKind = "InfrastructureError"
	TranscriptionFailed FailureKind = "TranscriptionFailed"
	Timeout             FailureKind = "Timeout"
)

// Failure is the persisted cause of a FAILED execution. Message is always a
// fixed user-safe text.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

type Execution struct {
	ID         string     `json:"id"`
	SessionKey string     `json:"session_key,omitempty"`
	Status     Status     `json:"status"`
	State      string     `json:"state"`
	ResumeAt   *time.Time `json:"resume_at,omitempty"`
	Context    Context    `json:"context"`
	Failure    *Failure   `json:"failure,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Context is the accumulated run document. Each namespace is written by a
// single stage; a nil namespace means that stage has not completed.
type Context struct {
	Trigger          *Trigger          `json:"trigger,omitempty"`
	Transcription    *Transcription    `json:"transcription,omitempty"`
	Transcript       *Transcript       `json:"transcript,omitempty"`
	StoredTranscript *StoredTranscript `json:"stored_transcript,omitempty"`
	Feedback         *ModelOutput      `json:"feedback,omitempty"`
	Rewrite          *ModelOutput      `json:"rewrite,omitempty"`
	Combined         *ModelOutput      `json:"combined,omitempty"`
	Notification     *Notification     `json:"notification,omitempty"`
	FinalOutput      *string           `json:"final_output,omitempty"`
}

type Trigger struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
}

type Transcription struct {
	JobID         string `json:"job_id"`
	JobName       string `json:"job_name"`
	Status        string `json:"status"`
	OutputBucket  string `json:"output_bucket"`
	OutputKey     string `json:"output_key"`
	Polls         int    `json:"polls"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type Transcript struct {
	Text           string   `json:"text"`
	Bucket         string   `json:"bucket"`
	Key            string   `json:"key"`
	InjectionFlags []string `json:"injection_flags,omitempty"`
}

type StoredTranscript struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Error  string `json:"error,omitempty"`
}

type ModelOutput struct {
	Text string `json:"text"`
}

type Notification struct {
	Published bool      `json:"published"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}

// Clone returns a deep copy so a store never shares memory with callers.
func (c Context) Clone() Context {
	data, err := json.Marshal(c)
	if err != nil {
		return c
	}
	var out Context
	if err := json.Unmarshal(data, &out); err != nil {
		return c
	}
	return out
}

// Store persists executions. Create is idempotent by ID: when the ID already
// exists it returns created=false and leaves the stored row untouched.
type Store interface {
	Create(ctx context.Context, e *Execution) (bool, error)
	Get(ctx context.Context, id string) (*Execution, error)
	UpdateContext(ctx context.Context, id, state string, resumeAt *time.Time, c Context) error
	SetStatus(ctx context.Context, id string, status Status, failure *Failure) error
	RunningForSession(ctx context.Context, sessionKey string) (string, bool, error)
	ListRunning(ctx context.Context) ([]string, error)
}
