package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/voicelink/agent/domain/entities"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTimeoutSeconds = 15
)

const systemPrompt = `You translate a transcribed voice command into a structured desktop action.
Respond with a single JSON object and nothing else:
{"action_type": string, "parameters": object, "requires_confirmation": bool, "confirmation_prompt": string}
Supported action types: open_application, close_application, web_search, media_control,
system_control, file_operation, type_text, unknown.
Set requires_confirmation to true for destructive or irreversible actions (deleting files,
shutting down, closing unsaved work) and fill confirmation_prompt with a short question for the user.
If the command cannot be mapped, use action_type "unknown".`

// GeminiInterpreter implements CommandInterpreter using Google's Gemini API
type GeminiInterpreter struct {
	client  *genai.Client
	logger  *zap.Logger
	model   string
	timeout time.Duration
}

// NewGeminiInterpreter creates a new Gemini-backed interpreter
func NewGeminiInterpreter(logger *zap.Logger) (*GeminiInterpreter, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiInterpreter{
		client:  client,
		logger:  logger,
		model:   defaultModel,
		timeout: defaultTimeoutSeconds * time.Second,
	}, nil
}

// Interpret maps a transcription to a structured action.
func (g *GeminiInterpreter) Interpret(ctx context.Context, text string) (*entities.Interpretation, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(systemPrompt, genai.RoleUser),
		genai.NewContentFromText("Command: "+text, genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0.1)),
		MaxOutputTokens:  512,
		ResponseMIMEType: "application/json",
	}

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate interpretation, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < 2 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("interpretation request failed: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil ||
		len(response.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no interpretation generated")
	}

	var raw strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		raw.WriteString(part.Text)
	}

	interpretation, err := parseInterpretation(raw.String())
	if err != nil {
		g.logger.Error("Unparseable interpretation",
			zap.String("response", raw.String()),
			zap.Error(err))
		return nil, err
	}

	g.logger.Info("Command interpreted",
		zap.String("actionType", interpretation.ActionType),
		zap.Bool("requiresConfirmation", interpretation.RequiresConfirmation))

	return interpretation, nil
}

// parseInterpretation decodes the model output, tolerating markdown fences
// around the JSON body.
func parseInterpretation(raw string) (*entities.Interpretation, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var out struct {
		ActionType           string         `json:"action_type"`
		Parameters           map[string]any `json:"parameters"`
		RequiresConfirmation bool           `json:"requires_confirmation"`
		ConfirmationPrompt   string         `json:"confirmation_prompt"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to decode interpretation: %w", err)
	}
	if out.ActionType == "" {
		return nil, fmt.Errorf("interpretation missing action_type")
	}
	if out.Parameters == nil {
		out.Parameters = map[string]any{}
	}

	return &entities.Interpretation{
		ActionType:           out.ActionType,
		Parameters:           out.Parameters,
		RequiresConfirmation: out.RequiresConfirmation,
		ConfirmationPrompt:   out.ConfirmationPrompt,
	}, nil
}
