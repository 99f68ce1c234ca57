package workflow

import (
	"fmt"

	"github.com/nikhilbhutani/speechmentor/internal/execution"
)

// StageError carries the failure kind a stage wants recorded. Err is the
// internal cause and is only ever logged.
type StageError struct {
	Kind execution.FailureKind
	Op   string
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// permanent marks an error that retrying cannot fix.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

var failureMessages = map[execution.FailureKind]string{
	execution.InfrastructureError: "Your speech feedback could not be generated, please try again.",
	execution.TranscriptionFailed: "Your recording could not be transcribed, please try again with a different file.",
	execution.Timeout:             "Your speech feedback took too long to generate, please try again.",
}

// FailureMessage is the user-safe text stored for kind.
func FailureMessage(kind execution.FailureKind) string {
	if msg, ok := failureMessages[kind]; ok {
		return msg
	}
	return failureMessages[execution.InfrastructureError]
}
