package stt

import (
	"context"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/voicelink/agent/domain/entities"
	"github.com/voicelink/agent/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct{}

func NewGoogleSpeechToText() *GoogleSpeechToText {
	return &GoogleSpeechToText{}
}

func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("unsupported audio encoding: %s", config.Encoding)
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:        encoding,
		SampleRateHertz: int32(config.SampleRate),
		LanguageCode:    config.Language,
	}

	// Send initial configuration
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          recognitionConfig,
				InterimResults:  false, // We only want final results
				SingleUtterance: true,  // Treat as single utterance
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	return &GoogleSpeechToTextStream{
		client:     client,
		stream:     stream,
		ctx:        ctx,
		language:   config.Language,
		resultChan: make(chan entities.Transcription, 1),
		errorChan:  make(chan error, 1),
	}, nil
}

type GoogleSpeechToTextStream struct {
	client         *speech.Client
	stream         speechpb.Speech_StreamingRecognizeClient
	ctx            context.Context
	language       string
	audioReceived  bool
	resultChan     chan entities.Transcription
	errorChan      chan error
	receiverActive bool
}

func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	// Start the result receiver goroutine only once
	if !g.receiverActive {
		g.receiverActive = true
		go g.receiveResults()
	}

	if len(data) > 0 {
		g.audioReceived = true

		if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: data,
			},
		}); err != nil {
			return fmt.Errorf("failed to send audio data: %w", err)
		}
	}

	return nil
}

func (g *GoogleSpeechToTextStream) End() (entities.Transcription, error) {
	defer g.cleanup()

	if !g.audioReceived {
		return entities.Transcription{}, fmt.Errorf("no audio data received")
	}

	// Close the send stream to signal end of audio
	if err := g.stream.CloseSend(); err != nil {
		return entities.Transcription{}, fmt.Errorf("failed to close send stream: %w", err)
	}

	select {
	case <-g.ctx.Done():
		return entities.Transcription{}, fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case err := <-g.errorChan:
		return entities.Transcription{}, err
	case result := <-g.resultChan:
		return result, nil
	}
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	var final entities.Transcription
	final.Language = g.language

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			// Stream ended normally
			g.resultChan <- final
			return
		}
		if err != nil {
			g.errorChan <- fmt.Errorf("failed to receive response: %w", err)
			return
		}

		// Only final results carry usable alternatives
		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				best := result.Alternatives[0]
				final.Text = best.Transcript
				final.Confidence = float64(best.Confidence)
			}
		}
	}
}

func (g *GoogleSpeechToTextStream) cleanup() {
	if g.client != nil {
		g.client.Close()
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16", "pcm":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS", "opus":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
