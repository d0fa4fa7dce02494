package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicelink/agent/domain/entities"
	"github.com/voicelink/agent/domain/repositories"
)

// Handler performs one action type on the host.
type Handler func(ctx context.Context, parameters map[string]any) (string, error)

// LocalExecutor dispatches interpreted actions to registered handlers.
// Unknown action types fail the command without touching the host.
type LocalExecutor struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocalExecutor creates an executor with the built-in handler set.
func NewLocalExecutor(logger *zap.Logger) *LocalExecutor {
	e := &LocalExecutor{
		logger:   logger,
		handlers: make(map[string]Handler),
	}
	e.registerDefaults()
	return e
}

// Register installs or replaces the handler for an action type.
func (e *LocalExecutor) Register(actionType string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[actionType] = handler
}

func (e *LocalExecutor) Execute(ctx context.Context, actionType string, parameters map[string]any) (*entities.ExecutionResult, error) {
	e.mu.RLock()
	handler, ok := e.handlers[actionType]
	e.mu.RUnlock()

	if !ok {
		e.logger.Warn("Unsupported action type", zap.String("actionType", actionType))
		return &entities.ExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("unsupported action type: %s", actionType),
		}, nil
	}

	started := time.Now()
	result, err := handler(ctx, parameters)
	if err != nil {
		e.logger.Error("Action execution failed",
			zap.String("actionType", actionType),
			zap.Error(err))
		return &entities.ExecutionResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	e.logger.Info("Action executed",
		zap.String("actionType", actionType),
		zap.Duration("took", time.Since(started)))

	return &entities.ExecutionResult{
		Success: true,
		Result:  map[string]any{"message": result},
	}, nil
}

// registerDefaults installs simulated handlers. Production deployments
// replace these with OS integrations via Register.
func (e *LocalExecutor) registerDefaults() {
	e.handlers["open_application"] = func(ctx context.Context, p map[string]any) (string, error) {
		app, _ := p["application"].(string)
		if app == "" {
			return "", fmt.Errorf("missing application parameter")
		}
		return fmt.Sprintf("opened %s", app), nil
	}
	e.handlers["close_application"] = func(ctx context.Context, p map[string]any) (string, error) {
		app, _ := p["application"].(string)
		if app == "" {
			return "", fmt.Errorf("missing application parameter")
		}
		return fmt.Sprintf("closed %s", app), nil
	}
	e.handlers["web_search"] = func(ctx context.Context, p map[string]any) (string, error) {
		query, _ := p["query"].(string)
		if query == "" {
			return "", fmt.Errorf("missing query parameter")
		}
		return fmt.Sprintf("searched for %q", query), nil
	}
	e.handlers["media_control"] = func(ctx context.Context, p map[string]any) (string, error) {
		action, _ := p["action"].(string)
		return fmt.Sprintf("media %s", action), nil
	}
	e.handlers["system_control"] = func(ctx context.Context, p map[string]any) (string, error) {
		query, _ := p["query"].(string)
		if query == "current_time" {
			return time.Now().Format(time.Kitchen), nil
		}
		return "ok", nil
	}
	e.handlers["file_operation"] = func(ctx context.Context, p map[string]any) (string, error) {
		op, _ := p["operation"].(string)
		target, _ := p["target"].(string)
		return fmt.Sprintf("%s %s", op, target), nil
	}
	e.handlers["type_text"] = func(ctx context.Context, p map[string]any) (string, error) {
		text, _ := p["text"].(string)
		return fmt.Sprintf("typed %d characters", len(text)), nil
	}
}

var _ repositories.ActionExecutor = (*LocalExecutor)(nil)
