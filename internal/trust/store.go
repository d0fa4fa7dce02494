package trust

import (
	"errors"
	"sync"

	"github.com/voicelink/agent/domain/entities"
)

// ErrNotFound is returned when no bundle exists for a device.
var ErrNotFound = errors.New("trust bundle not found")

// MemoryStore is an in-memory TrustStore. Bundles are treated as
// immutable values: Put replaces wholesale, readers get copies. The
// revocation set outlives bundle deletion so a revoked device stays
// rejected even if it still holds old credentials.
type MemoryStore struct {
	mu      sync.RWMutex
	bundles map[string]entities.TrustBundle
	revoked map[string]bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bundles: make(map[string]entities.TrustBundle),
		revoked: make(map[string]bool),
	}
}

// Get returns a copy of the device's bundle.
func (s *MemoryStore) Get(deviceID string) (*entities.TrustBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bundle, ok := s.bundles[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	out := bundle
	return &out, nil
}

// Put stores a bundle, replacing any previous one for the device and
// clearing its revoked mark (a re-pair re-establishes trust).
func (s *MemoryStore) Put(bundle *entities.TrustBundle) error {
	if err := bundle.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[bundle.DeviceID] = *bundle
	delete(s.revoked, bundle.DeviceID)
	return nil
}

// Delete removes the device's bundle.
func (s *MemoryStore) Delete(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bundles[deviceID]; !ok {
		return ErrNotFound
	}
	delete(s.bundles, deviceID)
	return nil
}

// Revoke deletes the device's bundle and marks the device revoked so
// later connection attempts with the superseded credentials fail
// authentication.
func (s *MemoryStore) Revoke(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bundles, deviceID)
	s.revoked[deviceID] = true
	return nil
}

// IsRevoked reports whether the device's credentials were revoked.
func (s *MemoryStore) IsRevoked(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revoked[deviceID]
}

// ActiveCount returns how many devices currently hold valid bundles.
func (s *MemoryStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bundles)
}
