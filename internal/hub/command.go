package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicelink/agent/domain/entities"
	"github.com/voicelink/agent/domain/repositories"
	"github.com/voicelink/agent/internal/protocol"
)

// stageProgress maps lifecycle states to coarse progress values for
// command_status updates.
var stageProgress = map[entities.CommandStatus]int{
	entities.CommandStatusListening:            10,
	entities.CommandStatusProcessing:           30,
	entities.CommandStatusInterpreting:         50,
	entities.CommandStatusAwaitingConfirmation: 60,
	entities.CommandStatusExecuting:            80,
	entities.CommandStatusCompleted:            100,
}

// commandRun drives one command through
// listening -> processing -> interpreting -> {awaiting_confirmation | executing}
// -> terminal. All status mutation goes through transition/forceTerminal
// under the mutex, so cancellation and timeouts racing the pipeline
// resolve to exactly one terminal state and stale results are dropped.
type commandRun struct {
	client *Client
	cmd    *entities.Command

	stt     repositories.SpeechToTextStreaming
	tracker protocol.SequenceTracker

	mu         sync.Mutex
	confirmCh  chan bool
	cancelCh   chan struct{}
	cancelOnce sync.Once

	listenTimer *time.Timer
	startedAt   time.Time
}

func newCommandRun(client *Client, language string) (*commandRun, error) {
	if language == "" {
		language = "en-US"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	streaming, err := client.hub.stt.InitTranscribeStreaming(ctx, repositories.AudioConfig{
		SampleRate: client.hub.config.MaxAudioRate,
		Encoding:   "opus",
		Language:   language,
	})
	if err != nil {
		return nil, fmt.Errorf("init transcription: %w", err)
	}

	run := &commandRun{
		client:    client,
		cmd:       entities.NewCommand(uuid.NewString(), client.deviceID, language),
		stt:       streaming,
		confirmCh: make(chan bool, 1),
		cancelCh:  make(chan struct{}),
		startedAt: time.Now(),
	}

	run.sendStatus("listening for audio")

	run.listenTimer = time.AfterFunc(client.hub.config.ListeningTimeout, func() {
		run.mu.Lock()
		listening := run.cmd.Status == entities.CommandStatusListening
		run.mu.Unlock()
		if listening {
			run.timeOut("listening timed out before end_command")
		}
	})

	return run, nil
}

func (r *commandRun) finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd.Status.IsTerminal()
}

// feedAudio streams one frame into the transcriber, surfacing sequence
// gaps rather than reordering.
func (r *commandRun) feedAudio(frame protocol.AudioFrame) {
	r.mu.Lock()
	if r.cmd.Status != entities.CommandStatusListening {
		r.mu.Unlock()
		r.client.logger.Warn("Audio frame outside listening state",
			zap.String("commandID", r.cmd.CommandID),
			zap.String("status", string(r.cmd.Status)))
		return
	}
	skipped, ok := r.tracker.Observe(frame.Sequence)
	if !ok {
		r.mu.Unlock()
		r.client.logger.Warn("Dropping stale audio frame",
			zap.String("commandID", r.cmd.CommandID),
			zap.Uint32("sequence", frame.Sequence))
		return
	}
	r.cmd.SequenceCounter = frame.Sequence + 1
	commandID := r.cmd.CommandID
	r.mu.Unlock()

	if skipped > 0 {
		r.client.logger.Warn("Audio frame gap detected",
			zap.String("commandID", commandID),
			zap.Uint32("sequence", frame.Sequence),
			zap.Uint32("skipped", skipped))
		r.client.sendControl(protocol.MessageTypeCommandStatus, protocol.CommandStatusPayload{
			CommandID: commandID,
			Status:    string(entities.CommandStatusListening),
			Progress:  stageProgress[entities.CommandStatusListening],
			Message:   fmt.Sprintf("%d audio frames lost before sequence %d", skipped, frame.Sequence),
		})
	}

	if err := r.stt.Stream(frame.Payload); err != nil {
		r.client.logger.Error("Failed to stream audio to transcriber",
			zap.String("commandID", commandID),
			zap.Error(err))
	}
}

// endCapture closes the audio phase and starts the asynchronous
// processing pipeline.
func (r *commandRun) endCapture(durationMs int64) {
	if r.listenTimer != nil {
		r.listenTimer.Stop()
	}
	if !r.transition(entities.CommandStatusProcessing, "transcribing") {
		return
	}
	r.client.logger.Info("Command capture ended",
		zap.String("commandID", r.cmd.CommandID),
		zap.Int64("durationMs", durationMs),
		zap.Uint32("frames", r.cmd.SequenceCounter))
	go r.pipeline()
}

// cancel moves the command to Cancelled from any non-terminal state and
// unblocks the pipeline. Later-arriving results are dropped.
func (r *commandRun) cancel(reason string) {
	r.cancelOnce.Do(func() {
		if r.listenTimer != nil {
			r.listenTimer.Stop()
		}
		r.mu.Lock()
		moved := r.cmd.Transition(entities.CommandStatusCancelled)
		commandID := r.cmd.CommandID
		r.mu.Unlock()
		close(r.cancelCh)
		if moved {
			r.client.logger.Info("Command cancelled",
				zap.String("commandID", commandID),
				zap.String("reason", reason))
			r.client.sendControl(protocol.MessageTypeCommandStatus, protocol.CommandStatusPayload{
				CommandID: commandID,
				Status:    string(entities.CommandStatusCancelled),
				Message:   reason,
			})
		}
	})
}

// confirm delivers the user's answer to a pending confirmation request.
func (r *commandRun) confirm(confirmed bool) {
	r.mu.Lock()
	awaiting := r.cmd.Status == entities.CommandStatusAwaitingConfirmation
	r.mu.Unlock()
	if !awaiting {
		r.client.logger.Warn("Confirmation response outside awaiting_confirmation",
			zap.String("commandID", r.cmd.CommandID))
		return
	}
	select {
	case r.confirmCh <- confirmed:
	default:
	}
}

// pipeline runs the post-capture stages. Each stage races its own
// timeout and cancellation.
func (r *commandRun) pipeline() {
	cfg := r.client.hub.config

	// Processing: wait for the final transcription.
	type sttResult struct {
		transcript entities.Transcription
		err        error
	}
	sttDone := make(chan sttResult, 1)
	go func() {
		transcript, err := r.stt.End()
		sttDone <- sttResult{transcript: transcript, err: err}
	}()

	var transcript entities.Transcription
	select {
	case <-r.cancelCh:
		return
	case <-time.After(cfg.ProcessingTimeout):
		r.timeOut("transcription timed out")
		return
	case res := <-sttDone:
		if res.err != nil {
			r.fail(protocol.ErrorCodeSttFailed, "speech recognition failed", true, res.err)
			return
		}
		transcript = res.transcript
	}
	transcript.Language = r.cmd.Language

	r.mu.Lock()
	r.cmd.Transcript = &transcript
	commandID := r.cmd.CommandID
	r.mu.Unlock()

	r.client.sendControl(protocol.MessageTypeTranscription, protocol.TranscriptionPayload{
		CommandID:  commandID,
		Text:       transcript.Text,
		Confidence: transcript.Confidence,
		Language:   transcript.Language,
	})

	if transcript.Text == "" {
		r.fail(protocol.ErrorCodeCommandInvalid, "no speech detected", false, nil)
		return
	}

	// Interpreting.
	if !r.transition(entities.CommandStatusInterpreting, "interpreting command") {
		return
	}

	type interpResult struct {
		interp *entities.Interpretation
		err    error
	}
	interpDone := make(chan interpResult, 1)
	interpCtx, cancelInterp := context.WithTimeout(context.Background(), cfg.InterpretingTimeout)
	defer cancelInterp()
	go func() {
		interp, err := r.client.hub.interpreter.Interpret(interpCtx, transcript.Text)
		interpDone <- interpResult{interp: interp, err: err}
	}()

	var interp *entities.Interpretation
	select {
	case <-r.cancelCh:
		return
	case <-time.After(cfg.InterpretingTimeout):
		r.timeOut("interpretation timed out")
		return
	case res := <-interpDone:
		if res.err != nil {
			r.fail(protocol.ErrorCodeLlmUnavailable, "command interpretation failed", true, res.err)
			return
		}
		interp = res.interp
	}

	if interp == nil || interp.ActionType == "" {
		r.fail(protocol.ErrorCodeCommandInvalid, "could not understand command", false, nil)
		return
	}

	r.mu.Lock()
	r.cmd.Interpretation = interp
	r.mu.Unlock()

	r.client.sendControl(protocol.MessageTypeCommandInterpretation, protocol.CommandInterpretationPayload{
		CommandID:            commandID,
		ActionType:           interp.ActionType,
		Parameters:           interp.Parameters,
		RequiresConfirmation: interp.RequiresConfirmation,
	})

	if interp.ActionType == "unknown" {
		r.fail(protocol.ErrorCodeUnsupportedAction, "command does not map to a supported action", false, nil)
		return
	}

	// Confirmation gate for destructive actions.
	if interp.RequiresConfirmation {
		if !r.transition(entities.CommandStatusAwaitingConfirmation, "awaiting confirmation") {
			return
		}
		prompt := interp.ConfirmationPrompt
		if prompt == "" {
			prompt = fmt.Sprintf("Confirm action %q?", interp.ActionType)
		}
		r.client.sendControl(protocol.MessageTypeConfirmationRequest, protocol.ConfirmationRequestPayload{
			CommandID: commandID,
			Action:    interp.ActionType,
			Message:   prompt,
			Details:   interp.Parameters,
		})

		select {
		case <-r.cancelCh:
			return
		case <-time.After(cfg.ConfirmationTimeout):
			r.mu.Lock()
			moved := r.cmd.Transition(entities.CommandStatusCancelled)
			r.mu.Unlock()
			if moved {
				r.client.sendError(commandID, protocol.ErrorCodeConfirmationTimeout,
					"confirmation timed out", false)
			}
			return
		case confirmed := <-r.confirmCh:
			if !confirmed {
				r.mu.Lock()
				moved := r.cmd.Transition(entities.CommandStatusCancelled)
				r.mu.Unlock()
				if moved {
					r.client.sendControl(protocol.MessageTypeCommandStatus, protocol.CommandStatusPayload{
						CommandID: commandID,
						Status:    string(entities.CommandStatusCancelled),
						Message:   "declined by user",
					})
				}
				return
			}
		}
	}

	// Executing.
	if !r.transition(entities.CommandStatusExecuting, "executing "+interp.ActionType) {
		return
	}

	type execResult struct {
		result *entities.ExecutionResult
		err    error
	}
	execDone := make(chan execResult, 1)
	execCtx, cancelExec := context.WithTimeout(context.Background(), cfg.ExecutionTimeout)
	defer cancelExec()
	executeStart := time.Now()
	go func() {
		result, err := r.client.hub.executor.Execute(execCtx, interp.ActionType, interp.Parameters)
		execDone <- execResult{result: result, err: err}
	}()

	select {
	case <-r.cancelCh:
		return
	case <-time.After(cfg.ExecutionTimeout):
		r.timeOut("execution timed out")
		return
	case res := <-execDone:
		executionTime := time.Since(executeStart).Milliseconds()
		if res.err != nil {
			r.fail(protocol.ErrorCodeExecutionFailed, "action execution failed", true, res.err)
			return
		}
		if !res.result.Success {
			r.mu.Lock()
			moved := r.cmd.Transition(entities.CommandStatusFailed)
			r.mu.Unlock()
			if moved {
				r.client.sendControl(protocol.MessageTypeCommandResult, protocol.CommandResultPayload{
					CommandID:       commandID,
					Success:         false,
					ExecutionTimeMs: executionTime,
					Result:          map[string]any{"error": res.result.Error},
				})
			}
			return
		}

		r.mu.Lock()
		moved := r.cmd.Transition(entities.CommandStatusCompleted)
		r.mu.Unlock()
		if !moved {
			// Cancelled while the result was in flight; drop it.
			return
		}
		r.client.sendControl(protocol.MessageTypeCommandResult, protocol.CommandResultPayload{
			CommandID:       commandID,
			Success:         true,
			ExecutionTimeMs: executionTime,
			Result:          res.result.Result,
		})
		r.client.logger.Info("Command completed",
			zap.String("commandID", commandID),
			zap.String("actionType", interp.ActionType),
			zap.Int64("executionTimeMs", executionTime))
	}
}

// transition applies a forward lifecycle step and reports it to the
// client. Returns false when the command was superseded (cancelled or
// timed out) in the meantime.
func (r *commandRun) transition(next entities.CommandStatus, note string) bool {
	r.mu.Lock()
	moved := r.cmd.Transition(next)
	commandID := r.cmd.CommandID
	r.mu.Unlock()
	if !moved {
		return false
	}
	r.client.sendControl(protocol.MessageTypeCommandStatus, protocol.CommandStatusPayload{
		CommandID: commandID,
		Status:    string(next),
		Progress:  stageProgress[next],
		Message:   note,
	})
	return true
}

func (r *commandRun) sendStatus(note string) {
	r.mu.Lock()
	commandID := r.cmd.CommandID
	status := r.cmd.Status
	r.mu.Unlock()
	r.client.sendControl(protocol.MessageTypeCommandStatus, protocol.CommandStatusPayload{
		CommandID: commandID,
		Status:    string(status),
		Progress:  stageProgress[status],
		Message:   note,
	})
}

// timeOut forces TimedOut and surfaces an error to the client.
func (r *commandRun) timeOut(message string) {
	r.mu.Lock()
	moved := r.cmd.Transition(entities.CommandStatusTimedOut)
	commandID := r.cmd.CommandID
	r.mu.Unlock()
	if !moved {
		return
	}
	r.client.logger.Warn("Command timed out",
		zap.String("commandID", commandID),
		zap.String("detail", message))
	r.client.sendError(commandID, protocol.ErrorCodeCommandTimeout, message, true)
}

// fail moves the command to Failed and emits an error with the
// recoverability flag so the client can decide whether to offer retry.
func (r *commandRun) fail(code, message string, recoverable bool, cause error) {
	r.mu.Lock()
	moved := r.cmd.Transition(entities.CommandStatusFailed)
	commandID := r.cmd.CommandID
	r.mu.Unlock()
	if !moved {
		return
	}
	if cause != nil {
		r.client.logger.Error("Command failed",
			zap.String("commandID", commandID),
			zap.String("code", code),
			zap.Error(cause))
	} else {
		r.client.logger.Warn("Command failed",
			zap.String("commandID", commandID),
			zap.String("code", code),
			zap.String("message", message))
	}
	r.client.sendError(commandID, code, message, recoverable)
}
