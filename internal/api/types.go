package api

import "time"

// InitiatePairingRequest starts a pairing exchange for a device.
type InitiatePairingRequest struct {
	DeviceName string `json:"device_name" validate:"required"`
	DeviceType string `json:"device_type,omitempty"`
	OSVersion  string `json:"os_version,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
}

// InitiatePairingResponse carries the human-verified code. DeviceID is
// echoed back because the server assigns one when the request omits it,
// and verify must present the same id.
type InitiatePairingResponse struct {
	PairingID   string    `json:"pairing_id"`
	DeviceID    string    `json:"device_id"`
	PairingCode string    `json:"pairing_code"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// VerifyPairingRequest completes the exchange with the code the user read
// off the host. PublicKey optionally carries the device's own key so the
// private key never crosses the wire.
type VerifyPairingRequest struct {
	PairingID   string `json:"pairing_id" validate:"required"`
	PairingCode string `json:"pairing_code" validate:"required"`
	DeviceID    string `json:"device_id" validate:"required"`
	PublicKey   string `json:"public_key,omitempty"`
}

// VerifyPairingResponse is the issued trust material.
type VerifyPairingResponse struct {
	DeviceID          string    `json:"device_id"`
	ClientCertificate string    `json:"client_certificate"`
	CACertificate     string    `json:"ca_certificate"`
	ClientPrivateKey  string    `json:"client_private_key,omitempty"`
	AuthToken         string    `json:"auth_token"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// PairingStatusResponse reports the read-only session state.
type PairingStatusResponse struct {
	PairingID string `json:"pairing_id"`
	State     string `json:"state"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
