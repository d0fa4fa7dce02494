package repositories

import (
	"github.com/voicelink/agent/domain/entities"
)

// TrustStore abstracts persistence of issued trust bundles. The original
// design keeps these in platform secure storage; the protocol core only
// depends on this contract so it can be tested with an in-memory
// implementation.
type TrustStore interface {
	Get(deviceID string) (*entities.TrustBundle, error)
	Put(bundle *entities.TrustBundle) error
	Delete(deviceID string) error
}
