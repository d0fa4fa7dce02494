package entities

import (
	"errors"
	"time"
)

// PairingState represents the lifecycle state of a pairing session.
// Transitions are monotonic: a session never re-enters an earlier state.
type PairingState string

const (
	PairingStateInitiated            PairingState = "initiated"
	PairingStateAwaitingVerification PairingState = "awaiting_verification"
	PairingStateCompleted            PairingState = "completed"
	PairingStateExpired              PairingState = "expired"
	PairingStateFailed               PairingState = "failed"
)

// PairingSession represents one in-flight pairing exchange between a
// device and this host. The 6-digit code is the human-verified secret;
// it is single-use and expires minutes after initiation.
type PairingSession struct {
	PairingID      string       `json:"pairing_id"`
	DeviceID       string       `json:"device_id"`
	DeviceName     string       `json:"device_name"`
	DeviceType     string       `json:"device_type,omitempty"`
	OSVersion      string       `json:"os_version,omitempty"`
	Code           string       `json:"-"`
	State          PairingState `json:"state"`
	FailedAttempts int          `json:"failed_attempts"`
	CreatedAt      time.Time    `json:"created_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
}

// IsExpired checks the wall-clock expiry of the session.
func (p *PairingSession) IsExpired() bool {
	return time.Now().After(p.ExpiresAt)
}

// IsTerminal reports whether the session can no longer change state.
func (p *PairingSession) IsTerminal() bool {
	switch p.State {
	case PairingStateCompleted, PairingStateExpired, PairingStateFailed:
		return true
	}
	return false
}

// Verifiable reports whether a verify attempt may be made against this
// session. Completed, expired and failed sessions never accept another
// attempt.
func (p *PairingSession) Verifiable() bool {
	return p.State == PairingStateInitiated || p.State == PairingStateAwaitingVerification
}

// Validate validates the session data.
func (p *PairingSession) Validate() error {
	if p.PairingID == "" {
		return errors.New("pairing_id is required")
	}
	if p.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if len(p.Code) != 6 {
		return errors.New("pairing code must be 6 digits")
	}
	return nil
}
