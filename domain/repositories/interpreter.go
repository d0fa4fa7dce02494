package repositories

import (
	"context"

	"github.com/voicelink/agent/domain/entities"
)

// CommandInterpreter abstracts the natural-language interpreter that maps
// a transcript to an executable action.
type CommandInterpreter interface {
	Interpret(ctx context.Context, text string) (*entities.Interpretation, error)
}
