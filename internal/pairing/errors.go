package pairing

import "errors"

var (
	// ErrRateLimited is returned when too many initiations occur for the
	// same device within the rolling window.
	ErrRateLimited = errors.New("too many pairing attempts, try again later")

	// ErrAlreadyPaired is returned when the device already holds an
	// active trust bundle.
	ErrAlreadyPaired = errors.New("device is already paired")

	// ErrDeviceLimit is returned when the host has reached its paired
	// device cap.
	ErrDeviceLimit = errors.New("maximum paired devices reached, revoke a device first")

	// ErrPairingNotFound is returned for an unknown pairing id.
	ErrPairingNotFound = errors.New("pairing session not found")

	// ErrPairingExpired is returned when the session's expiry has passed.
	ErrPairingExpired = errors.New("pairing session expired")

	// ErrPairingConsumed is returned when verify is attempted against a
	// session that already completed. Credentials are never re-issued.
	ErrPairingConsumed = errors.New("pairing session already completed")

	// ErrInvalidCode is returned on a pairing code mismatch.
	ErrInvalidCode = errors.New("invalid pairing code")

	// ErrTooManyAttempts is returned once the failure counter reaches its
	// threshold; the session is permanently failed.
	ErrTooManyAttempts = errors.New("too many failed attempts, pairing locked")

	// ErrDeviceMismatch is returned when verify carries a different
	// device id than the one that initiated.
	ErrDeviceMismatch = errors.New("device id does not match pairing session")
)
