package speech

import (
	"bytes"
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperTranscriber converts audio chunks to text through the OpenAI
// transcription endpoint.
type WhisperTranscriber struct {
	client *openai.Client
}

// NewWhisperTranscriber creates a transcriber backed by the given API key.
func NewWhisperTranscriber(apiKey string) (*WhisperTranscriber, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &WhisperTranscriber{client: openai.NewClient(apiKey)}, nil
}

// Transcribe sends one audio chunk and returns the recognized text. The
// filename only carries the container format hint for the endpoint.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audio),
		FilePath: filename,
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	return resp.Text, nil
}
