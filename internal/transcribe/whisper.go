package transcribe

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/speechmentor/internal/config"
)

// WhisperTranscriber calls an OpenAI-compatible /audio/transcriptions
// endpoint. Pointing BaseURL at a local whisper.cpp server works too.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
}

func NewWhisperTranscriber(cfg config.STTConfig) *WhisperTranscriber {
	oc := openai.DefaultConfig(cfg.OpenAIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = cfg.OpenAIBaseURL
	}
	model := cfg.OpenAIModel
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{client: openai.NewClientWithConfig(oc), model: model}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, media io.Reader, filename, languageCode string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		Reader:   media,
		FilePath: filename,
		Language: whisperLanguage(languageCode),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return resp.Text, nil
}

// whisperLanguage maps a BCP-47 code such as "en-US" to the ISO-639-1 code
// whisper expects.
func whisperLanguage(code string) string {
	lang, _, _ := strings.Cut(code, "-")
	return strings.ToLower(lang)
}
