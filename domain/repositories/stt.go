package repositories

import (
	"context"

	"github.com/voicelink/agent/domain/entities"
)

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// InitTranscribeStreaming initializes a streaming transcription session
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// SpeechToTextStreaming consumes audio for one command and yields the
// final transcription when the stream ends.
type SpeechToTextStreaming interface {
	Stream(data []byte) error
	End() (entities.Transcription, error)
}
