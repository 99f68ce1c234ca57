package transcribe

import (
	"encoding/json"
	"errors"
	"fmt"
)

// resultDocument is the layout of a finished job's output object.
type resultDocument struct {
	JobName string `json:"jobName"`
	Status  string `json:"status"`
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

func EncodeResult(jobName, text string) ([]byte, error) {
	var doc resultDocument
	doc.JobName = jobName
	doc.Status = string(StatusCompleted)
	doc.Results.Transcripts = append(doc.Results.Transcripts, struct {
		Transcript string `json:"transcript"`
	}{Transcript: text})
	return json.Marshal(doc)
}

// ParseResult extracts the transcript text from a job output object.
func ParseResult(data []byte) (string, error) {
	var doc resultDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decode transcription result: %w", err)
	}
	if len(doc.Results.Transcripts) == 0 {
		return "", errors.New("transcription result has no transcripts")
	}
	return doc.Results.Transcripts[0].Transcript, nil
}
