package queue

const (
	TypeWorkflowAdvance  = "workflow:advance"
	TypeTranscriptionRun = "transcription:run"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type WorkflowAdvancePayload struct {
	ExecutionID string `json:"execution_id"`
}

type TranscriptionRunPayload struct {
	JobName string `json:"job_name"`
}
