package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType defines the type of a control message
type MessageType string

// Supported message types. Client-to-host requests carry a unique message
// id; host-to-client responses correlate by command_id in their payload.
const (
	// client -> host
	MessageTypeStartCommand         MessageType = "start_command"
	MessageTypeEndCommand           MessageType = "end_command"
	MessageTypeCancelCommand        MessageType = "cancel_command"
	MessageTypeConfirmationResponse MessageType = "confirmation_response"
	MessageTypePing                 MessageType = "ping"

	// host -> client
	MessageTypeConnectionReady       MessageType = "connection_ready"
	MessageTypeTranscription         MessageType = "transcription"
	MessageTypeCommandInterpretation MessageType = "command_interpretation"
	MessageTypeCommandStatus         MessageType = "command_status"
	MessageTypeConfirmationRequest   MessageType = "confirmation_request"
	MessageTypeCommandResult         MessageType = "command_result"
	MessageTypeError                 MessageType = "error"
	MessageTypePong                  MessageType = "pong"
)

// Message is the envelope shared by every control message on the JSON
// sub-channel.
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// StartCommandPayload opens a new voice command.
type StartCommandPayload struct {
	Language string `json:"language"`
}

// EndCommandPayload closes the audio capture phase of the active command.
type EndCommandPayload struct {
	DurationMs int64 `json:"duration_ms"`
}

// CancelCommandPayload cancels a command from any non-terminal state.
type CancelCommandPayload struct {
	CommandID string `json:"command_id"`
	Reason    string `json:"reason,omitempty"`
}

// ConfirmationResponsePayload answers a confirmation_request.
type ConfirmationResponsePayload struct {
	CommandID string `json:"command_id"`
	Confirmed bool   `json:"confirmed"`
}

// PingPayload is an empty liveness probe body.
type PingPayload struct{}

// ConnectionReadyPayload announces a successfully established session.
type ConnectionReadyPayload struct {
	ServerVersion   string   `json:"server_version"`
	MaxAudioRate    int      `json:"max_audio_rate"`
	SupportedCodecs []string `json:"supported_codecs"`
	ConnectionID    string   `json:"connection_id"`
}

// TranscriptionPayload delivers the speech-to-text result.
type TranscriptionPayload struct {
	CommandID  string  `json:"command_id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// CommandInterpretationPayload delivers the interpreted action.
type CommandInterpretationPayload struct {
	CommandID            string         `json:"command_id"`
	ActionType           string         `json:"action_type"`
	Parameters           map[string]any `json:"parameters"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
}

// CommandStatusPayload reports lifecycle progress for a command.
type CommandStatusPayload struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ConfirmationRequestPayload gates a destructive action on user approval.
type ConfirmationRequestPayload struct {
	CommandID string         `json:"command_id"`
	Action    string         `json:"action"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// CommandResultPayload is the final outcome of a command.
type CommandResultPayload struct {
	CommandID       string         `json:"command_id"`
	Success         bool           `json:"success"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Result          map[string]any `json:"result,omitempty"`
}

// ErrorPayload surfaces a command or connection level failure. The
// recoverable flag tells the client whether offering a retry makes sense.
type ErrorPayload struct {
	CommandID   string `json:"command_id,omitempty"`
	ErrorCode   string `json:"error_code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// PongPayload answers a ping with the measured server-side latency.
type PongPayload struct {
	LatencyMs int64 `json:"latency_ms"`
}

// Error codes used in ErrorPayload.
const (
	ErrorCodeSttFailed           = "STT_FAILED"
	ErrorCodeLlmUnavailable      = "LLM_UNAVAILABLE"
	ErrorCodeCommandInvalid      = "COMMAND_INVALID"
	ErrorCodeUnsupportedAction   = "UNSUPPORTED_ACTION"
	ErrorCodeCommandTimeout      = "COMMAND_TIMEOUT"
	ErrorCodeConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	ErrorCodeExecutionFailed     = "EXECUTION_FAILED"
)

// NewMessage wraps a typed payload into an envelope with a fresh id and
// timestamp.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return &Message{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Payload:   raw,
	}, nil
}

// Encode serializes the envelope for the text sub-channel.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a control message envelope, validating the type tag.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("control message missing type field")
	}
	if !knownTypes[msg.Type] {
		return nil, fmt.Errorf("unsupported message type: %s", msg.Type)
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().Format(time.RFC3339Nano)
	}
	return &msg, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (m *Message) DecodePayload(dst any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("invalid %s payload: %w", m.Type, err)
	}
	return nil
}

var knownTypes = map[MessageType]bool{
	MessageTypeStartCommand:          true,
	MessageTypeEndCommand:            true,
	MessageTypeCancelCommand:         true,
	MessageTypeConfirmationResponse:  true,
	MessageTypePing:                  true,
	MessageTypeConnectionReady:       true,
	MessageTypeTranscription:         true,
	MessageTypeCommandInterpretation: true,
	MessageTypeCommandStatus:         true,
	MessageTypeConfirmationRequest:   true,
	MessageTypeCommandResult:         true,
	MessageTypeError:                 true,
	MessageTypePong:                  true,
}
