package stt

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/voicelink/agent/domain/entities"
	"github.com/voicelink/agent/domain/repositories"
)

// MockSpeechToText is a placeholder implementation for speech recognition
type MockSpeechToText struct {
	logger *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) repositories.SpeechToText {
	return &MockSpeechToText{logger: logger}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &MockSpeechToTextStream{
		logger:   s.logger,
		language: config.Language,
	}, nil
}

// MockSpeechToTextStream fakes a recognizer by mapping cumulative audio
// volume to canned utterances.
type MockSpeechToTextStream struct {
	logger   *zap.Logger
	language string

	mu       sync.Mutex
	received int
}

func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.mu.Lock()
	m.received += len(data)
	m.mu.Unlock()
	return nil
}

// End returns the mock transcription result
func (m *MockSpeechToTextStream) End() (entities.Transcription, error) {
	m.mu.Lock()
	received := m.received
	m.mu.Unlock()

	if received == 0 {
		return entities.Transcription{}, fmt.Errorf("no audio data received")
	}

	var text string
	switch {
	case received > 10000:
		text = "delete the downloads folder"
	case received > 5000:
		text = "open the browser and search for the weather"
	case received > 1000:
		text = "what time is it"
	default:
		text = "hello"
	}

	m.logger.Info("Ending mock transcription stream", zap.String("result", text))

	return entities.Transcription{
		Text:       text,
		Confidence: 0.92,
		Language:   m.language,
	}, nil
}
