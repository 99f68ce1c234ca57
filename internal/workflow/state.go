package workflow

import "time"

// State is a node of the execution state machine.
//
//	START_TRANSCRIPTION → WAIT → POLL_STATUS → EVALUATE
//	  COMPLETED → FETCH_TRANSCRIPT → FORK → JOIN → SUCCEEDED
//	  FAILED    → FAILED
//	  otherwise → WAIT
type State string

const (
	StateStartTranscription State = "START_TRANSCRIPTION"
	StateWait               State = "WAIT"
	StatePollStatus         State = "POLL_STATUS"
	StateEvaluate           State = "EVALUATE"
	StateFetchTranscript    State = "FETCH_TRANSCRIPT"
	StateFork               State = "FORK"
	StateJoin               State = "JOIN"
	StateSucceeded          State = "SUCCEEDED"
	StateFailed             State = "FAILED"
)

// Transition is the result of one step. Delay is only meaningful when Next
// is StateWait.
type Transition struct {
	Next  State
	Delay time.Duration
}
