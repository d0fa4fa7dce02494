package entities

import (
	"time"
)

// CommandStatus represents the lifecycle state of a voice command.
type CommandStatus string

const (
	CommandStatusListening            CommandStatus = "listening"
	CommandStatusProcessing           CommandStatus = "processing"
	CommandStatusInterpreting         CommandStatus = "interpreting"
	CommandStatusAwaitingConfirmation CommandStatus = "awaiting_confirmation"
	CommandStatusExecuting            CommandStatus = "executing"
	CommandStatusCompleted            CommandStatus = "completed"
	CommandStatusFailed               CommandStatus = "failed"
	CommandStatusCancelled            CommandStatus = "cancelled"
	CommandStatusTimedOut             CommandStatus = "timed_out"
)

// IsTerminal reports whether the status is final. Terminal commands never
// transition again; late results for them are dropped.
func (s CommandStatus) IsTerminal() bool {
	switch s {
	case CommandStatusCompleted, CommandStatusFailed, CommandStatusCancelled, CommandStatusTimedOut:
		return true
	}
	return false
}

// validCommandTransitions encodes the forward-only lifecycle:
// listening -> processing -> interpreting -> {awaiting_confirmation | executing}
// -> terminal. Cancel and timeout are accepted from any non-terminal state
// and are handled outside this table.
var validCommandTransitions = map[CommandStatus][]CommandStatus{
	CommandStatusListening:            {CommandStatusProcessing},
	CommandStatusProcessing:           {CommandStatusInterpreting},
	CommandStatusInterpreting:         {CommandStatusAwaitingConfirmation, CommandStatusExecuting},
	CommandStatusAwaitingConfirmation: {CommandStatusExecuting},
	CommandStatusExecuting:            {CommandStatusCompleted, CommandStatusFailed},
}

// CanTransition reports whether moving from into next is a legal forward
// step. Cancelled and TimedOut are always reachable from a non-terminal
// state; Failed is additionally reachable from Processing and Interpreting
// when a collaborator errors out.
func (s CommandStatus) CanTransition(next CommandStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == CommandStatusCancelled || next == CommandStatusTimedOut {
		return true
	}
	if next == CommandStatusFailed {
		return true
	}
	for _, allowed := range validCommandTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Interpretation is the interpreter's reading of a transcript: what action
// to take, with what parameters, and whether the user must confirm first.
type Interpretation struct {
	ActionType           string         `json:"action_type"`
	Parameters           map[string]any `json:"parameters"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	ConfirmationPrompt   string         `json:"confirmation_prompt,omitempty"`
}

// Transcription is the speech-to-text result for one command's audio.
type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// ExecutionResult is the executor's outcome for one action.
type ExecutionResult struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Command represents one voice-command execution cycle from audio capture
// to final result. Exactly one non-terminal command exists per session
// connection at a time. A retry never resurrects a command; it creates a
// new one with a fresh CommandID.
type Command struct {
	CommandID       string          `json:"command_id"`
	DeviceID        string          `json:"device_id"`
	Language        string          `json:"language"`
	Status          CommandStatus   `json:"status"`
	Transcript      *Transcription  `json:"transcript,omitempty"`
	Interpretation  *Interpretation `json:"interpretation,omitempty"`
	SequenceCounter uint32          `json:"sequence_counter"`
	Retries         int             `json:"retries"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// NewCommand creates a command in the Listening state.
func NewCommand(commandID, deviceID, language string) *Command {
	return &Command{
		CommandID: commandID,
		DeviceID:  deviceID,
		Language:  language,
		Status:    CommandStatusListening,
		CreatedAt: time.Now(),
	}
}

// Transition moves the command to next if legal, stamping CompletedAt on
// terminal states. It returns false when the move is not allowed, which
// callers use to drop stale signals against finished commands.
func (c *Command) Transition(next CommandStatus) bool {
	if !c.Status.CanTransition(next) {
		return false
	}
	c.Status = next
	if next.IsTerminal() {
		now := time.Now()
		c.CompletedAt = &now
	}
	return true
}

// Retryable reports whether a failed command may be retried under the
// given limit. Only Failed qualifies; timeouts and cancellations need a
// fresh user action.
func (c *Command) Retryable(maxRetries int) bool {
	return c.Status == CommandStatusFailed && c.Retries < maxRetries
}
