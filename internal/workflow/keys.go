package workflow

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

const (
	transcribedPrefix = "transcribed-text-files/"
)

// executionNamespace scopes execution ids derived from object locations.
var executionNamespace = uuid.MustParse("6f1b8f0e-3c2a-5d4e-9a7b-2f8c1d0e4a63")

// ExecutionID is deterministic in the triggering object, so a duplicate
// trigger maps to the same execution.
func ExecutionID(bucket, objectKey string) string {
	return uuid.NewSHA1(executionNamespace, []byte(bucket+"/"+objectKey)).String()
}

// SessionKey is the path segment after the upload prefix in
// "<prefix>/<session>/<file>", or "" for keys directly under the prefix.
func SessionKey(objectKey string) string {
	parts := strings.Split(strings.Trim(objectKey, "/"), "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

// TranscriptionOutputKey is where the transcription job writes its result.
func TranscriptionOutputKey(objectKey string) string {
	return transcribedPrefix + objectKey + "-temp.json"
}

// TranscriptKey is where the plain-text transcript is stored.
func TranscriptKey(objectKey string) string {
	return transcribedPrefix + objectKey + "-transcript.txt"
}

func modelLabel(executionID, objectKey, kind string) string {
	return executionID + "/" + path.Base(objectKey) + "-" + kind
}
