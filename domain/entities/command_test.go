package entities

import (
	"testing"
)

func TestCommandStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   CommandStatus
		terminal bool
	}{
		{CommandStatusListening, false},
		{CommandStatusProcessing, false},
		{CommandStatusInterpreting, false},
		{CommandStatusAwaitingConfirmation, false},
		{CommandStatusExecuting, false},
		{CommandStatusCompleted, true},
		{CommandStatusFailed, true},
		{CommandStatusCancelled, true},
		{CommandStatusTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestCommandTransitionForwardPath(t *testing.T) {
	cmd := NewCommand("cmd-1", "device-1", "en-US")

	steps := []CommandStatus{
		CommandStatusProcessing,
		CommandStatusInterpreting,
		CommandStatusAwaitingConfirmation,
		CommandStatusExecuting,
		CommandStatusCompleted,
	}
	for _, next := range steps {
		if !cmd.Transition(next) {
			t.Fatalf("Transition(%s) from %s rejected", next, cmd.Status)
		}
	}

	if cmd.CompletedAt == nil {
		t.Error("expected CompletedAt to be stamped on terminal transition")
	}
}

func TestCommandTransitionRejectsSkips(t *testing.T) {
	tests := []struct {
		name string
		from CommandStatus
		to   CommandStatus
	}{
		{"listening to interpreting", CommandStatusListening, CommandStatusInterpreting},
		{"listening to executing", CommandStatusListening, CommandStatusExecuting},
		{"processing to executing", CommandStatusProcessing, CommandStatusExecuting},
		{"executing backwards", CommandStatusExecuting, CommandStatusListening},
		{"completed to executing", CommandStatusCompleted, CommandStatusExecuting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewCommand("cmd-1", "device-1", "en-US")
			cmd.Status = tt.from
			if cmd.Transition(tt.to) {
				t.Errorf("Transition(%s -> %s) allowed, want rejected", tt.from, tt.to)
			}
		})
	}
}

func TestCommandCancelFromAnyNonTerminalState(t *testing.T) {
	for _, from := range []CommandStatus{
		CommandStatusListening,
		CommandStatusProcessing,
		CommandStatusInterpreting,
		CommandStatusAwaitingConfirmation,
		CommandStatusExecuting,
	} {
		cmd := NewCommand("cmd-1", "device-1", "en-US")
		cmd.Status = from
		if !cmd.Transition(CommandStatusCancelled) {
			t.Errorf("cancel from %s rejected", from)
		}
	}
}

func TestCommandTerminalStatesAreSticky(t *testing.T) {
	for _, terminal := range []CommandStatus{
		CommandStatusCompleted,
		CommandStatusFailed,
		CommandStatusCancelled,
		CommandStatusTimedOut,
	} {
		cmd := NewCommand("cmd-1", "device-1", "en-US")
		cmd.Status = terminal
		if cmd.Transition(CommandStatusCancelled) {
			t.Errorf("transition out of %s allowed", terminal)
		}
		if cmd.Transition(CommandStatusExecuting) {
			t.Errorf("transition out of %s allowed", terminal)
		}
	}
}

func TestCommandRetryable(t *testing.T) {
	cmd := NewCommand("cmd-1", "device-1", "en-US")
	cmd.Status = CommandStatusFailed

	if !cmd.Retryable(2) {
		t.Error("failed command with zero retries should be retryable")
	}

	cmd.Retries = 2
	if cmd.Retryable(2) {
		t.Error("command at retry limit should not be retryable")
	}

	cmd.Retries = 0
	cmd.Status = CommandStatusTimedOut
	if cmd.Retryable(2) {
		t.Error("timed out command should not be retryable")
	}

	cmd.Status = CommandStatusCancelled
	if cmd.Retryable(2) {
		t.Error("cancelled command should not be retryable")
	}
}
