package interpreter

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/voicelink/agent/domain/entities"
	"github.com/voicelink/agent/domain/repositories"
)

// MockInterpreter maps commands with keyword rules so the agent can run
// without a Gemini API key.
type MockInterpreter struct {
	logger *zap.Logger
}

// NewMockInterpreter creates a new mock interpreter
func NewMockInterpreter(logger *zap.Logger) repositories.CommandInterpreter {
	return &MockInterpreter{logger: logger}
}

func (m *MockInterpreter) Interpret(ctx context.Context, text string) (*entities.Interpretation, error) {
	lowered := strings.ToLower(text)

	var interpretation *entities.Interpretation
	switch {
	case strings.Contains(lowered, "delete"):
		interpretation = &entities.Interpretation{
			ActionType:           "file_operation",
			Parameters:           map[string]any{"operation": "delete", "target": "downloads"},
			RequiresConfirmation: true,
			ConfirmationPrompt:   "This will permanently delete files. Continue?",
		}
	case strings.Contains(lowered, "open"):
		interpretation = &entities.Interpretation{
			ActionType: "open_application",
			Parameters: map[string]any{"application": "browser"},
		}
	case strings.Contains(lowered, "search"):
		interpretation = &entities.Interpretation{
			ActionType: "web_search",
			Parameters: map[string]any{"query": text},
		}
	case strings.Contains(lowered, "time"):
		interpretation = &entities.Interpretation{
			ActionType: "system_control",
			Parameters: map[string]any{"query": "current_time"},
		}
	default:
		interpretation = &entities.Interpretation{
			ActionType: "unknown",
			Parameters: map[string]any{"text": text},
		}
	}

	m.logger.Info("Mock interpretation",
		zap.String("text", text),
		zap.String("actionType", interpretation.ActionType))

	return interpretation, nil
}
