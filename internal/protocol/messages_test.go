package protocol

import (
	"testing"
	"time"
)

func TestNewMessageEnvelope(t *testing.T) {
	msg, err := NewMessage(MessageTypeStartCommand, StartCommandPayload{Language: "en-US"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != MessageTypeStartCommand {
		t.Errorf("Type = %s, want start_command", msg.Type)
	}
	if msg.ID == "" {
		t.Error("expected a generated message id")
	}
	if _, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", msg.Timestamp, err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg, err := NewMessage(MessageTypeCancelCommand, CancelCommandPayload{
		CommandID: "cmd-9",
		Reason:    "user stopped",
	})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Type != MessageTypeCancelCommand {
		t.Errorf("decoded type = %s, want cancel_command", decoded.Type)
	}

	var payload CancelCommandPayload
	if err := decoded.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if payload.CommandID != "cmd-9" || payload.Reason != "user stopped" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestDecodeRejectsMalformedMessages(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "not json at all"},
		{"missing type", `{"id":"abc","payload":{}}`},
		{"unknown type", `{"type":"launch_missiles","id":"abc","payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestDecodeFillsMissingTimestamp(t *testing.T) {
	decoded, err := Decode([]byte(`{"type":"ping","id":"msg-1","payload":{}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Timestamp == "" {
		t.Error("expected timestamp to be filled in")
	}
}

func TestDecodePayloadMismatch(t *testing.T) {
	msg := &Message{
		Type:    MessageTypeConfirmationResponse,
		Payload: []byte(`{"command_id":123}`),
	}
	var payload ConfirmationResponsePayload
	if err := msg.DecodePayload(&payload); err == nil {
		t.Error("expected error for mistyped payload field")
	}
}
