package entities

import (
	"errors"
	"time"
)

// TrustBundle holds the credential material issued to a device by a
// completed pairing. It is immutable after creation; re-pairing replaces
// the whole bundle and revocation deletes it.
type TrustBundle struct {
	DeviceID          string    `json:"device_id"`
	CACertificate     string    `json:"ca_certificate"`     // PEM
	ClientCertificate string    `json:"client_certificate"` // PEM
	ClientPrivateKey  string    `json:"client_private_key,omitempty"` // PEM, empty when the key never left the device
	AuthToken         string    `json:"auth_token"`
	TokenExpiresAt    time.Time `json:"token_expires_at"`
}

// Validate checks that the bundle carries everything a session needs.
func (b *TrustBundle) Validate() error {
	if b.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if b.CACertificate == "" || b.ClientCertificate == "" {
		return errors.New("certificate chain is incomplete")
	}
	if b.AuthToken == "" {
		return errors.New("auth_token is required")
	}
	return nil
}

// TokenExpired reports whether the bearer token is past its lifetime.
func (b *TrustBundle) TokenExpired() bool {
	return time.Now().After(b.TokenExpiresAt)
}
