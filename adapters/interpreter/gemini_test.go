package interpreter

import (
	"testing"
)

func TestParseInterpretation(t *testing.T) {
	raw := `{"action_type":"open_application","parameters":{"application":"browser"},"requires_confirmation":false}`
	interp, err := parseInterpretation(raw)
	if err != nil {
		t.Fatalf("parseInterpretation failed: %v", err)
	}
	if interp.ActionType != "open_application" {
		t.Errorf("action = %s", interp.ActionType)
	}
	if interp.Parameters["application"] != "browser" {
		t.Errorf("parameters = %v", interp.Parameters)
	}
}

func TestParseInterpretationStripsFences(t *testing.T) {
	raw := "```json\n{\"action_type\":\"web_search\",\"parameters\":{\"query\":\"weather\"}}\n```"
	interp, err := parseInterpretation(raw)
	if err != nil {
		t.Fatalf("parseInterpretation failed: %v", err)
	}
	if interp.ActionType != "web_search" {
		t.Errorf("action = %s", interp.ActionType)
	}
}

func TestParseInterpretationConfirmation(t *testing.T) {
	raw := `{"action_type":"file_operation","parameters":{"operation":"delete"},"requires_confirmation":true,"confirmation_prompt":"Really delete?"}`
	interp, err := parseInterpretation(raw)
	if err != nil {
		t.Fatalf("parseInterpretation failed: %v", err)
	}
	if !interp.RequiresConfirmation {
		t.Error("expected requires_confirmation")
	}
	if interp.ConfirmationPrompt != "Really delete?" {
		t.Errorf("prompt = %q", interp.ConfirmationPrompt)
	}
}

func TestParseInterpretationErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "the model rambled instead"},
		{"missing action", `{"parameters":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseInterpretation(tt.raw); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseInterpretationDefaultsParameters(t *testing.T) {
	interp, err := parseInterpretation(`{"action_type":"unknown"}`)
	if err != nil {
		t.Fatalf("parseInterpretation failed: %v", err)
	}
	if interp.Parameters == nil {
		t.Error("parameters should default to an empty map")
	}
}
