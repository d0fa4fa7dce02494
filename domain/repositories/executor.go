package repositories

import (
	"context"

	"github.com/voicelink/agent/domain/entities"
)

// ActionExecutor abstracts the system/browser actions executed on the
// host. Implementations live outside the protocol core.
type ActionExecutor interface {
	Execute(ctx context.Context, actionType string, parameters map[string]any) (*entities.ExecutionResult, error)
}
