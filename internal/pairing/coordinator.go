package pairing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicelink/agent/domain/entities"
	"github.com/voicelink/agent/domain/repositories"
	"github.com/voicelink/agent/internal/auth"
)

// TrustRegistry is the coordinator's view of credential storage: the
// plain TrustStore contract plus revocation bookkeeping.
type TrustRegistry interface {
	repositories.TrustStore
	Revoke(deviceID string) error
	IsRevoked(deviceID string) bool
	ActiveCount() int
}

// Config holds the coordinator's tunables.
type Config struct {
	SessionTTL      time.Duration // pairing code lifetime
	MaxAttempts     int           // verify failures before the session locks
	MaxDevices      int           // paired device cap per host
	RateWindow      time.Duration // rolling window for initiation limiting
	RatePerWindow   int           // initiations allowed per window per device
	CleanupInterval time.Duration // janitor period for terminal sessions
	GraceWindow     time.Duration // how long terminal sessions stay queryable
}

// DefaultConfig mirrors the production defaults: 5-minute codes, 5
// attempts, 3 devices, 3 initiations per minute.
func DefaultConfig() Config {
	return Config{
		SessionTTL:      5 * time.Minute,
		MaxAttempts:     5,
		MaxDevices:      3,
		RateWindow:      time.Minute,
		RatePerWindow:   3,
		CleanupInterval: time.Minute,
		GraceWindow:     10 * time.Minute,
	}
}

// Coordinator drives the two-phase pairing exchange. The transport during
// pairing is encrypted but only server-authenticated; the 6-digit code is
// the out-of-band human-verified secret that completes mutual trust.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*entities.PairingSession

	config  Config
	store   TrustRegistry
	ca      *auth.CertificateAuthority
	tokens  *auth.TokenIssuer
	limiter *RateLimiter
	logger  *zap.Logger

	// onRevoke lets the session layer drop live connections when a
	// device's credentials are invalidated.
	onRevoke func(deviceID string)

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewCoordinator creates a pairing coordinator.
func NewCoordinator(
	config Config,
	store TrustRegistry,
	ca *auth.CertificateAuthority,
	tokens *auth.TokenIssuer,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		sessions: make(map[string]*entities.PairingSession),
		config:   config,
		store:    store,
		ca:       ca,
		tokens:   tokens,
		limiter:  NewRateLimiter(config.RateWindow, config.RatePerWindow),
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// OnRevoke registers a callback invoked after a device's credentials are
// revoked, while the exclusive section still holds.
func (c *Coordinator) OnRevoke(fn func(deviceID string)) {
	c.onRevoke = fn
}

// Initiate allocates a pairing session with a fresh 6-digit code. The
// limiter is keyed on callerAddr rather than the device id: device ids
// are client-chosen, so keying on them would let a caller reset the
// window by rotating ids.
func (c *Coordinator) Initiate(ctx context.Context, deviceName, deviceID, deviceType, osVersion, callerAddr string) (*entities.PairingSession, error) {
	if !c.limiter.Allow(callerAddr) {
		c.logger.Warn("Pairing initiation rate limited",
			zap.String("callerAddr", callerAddr),
			zap.String("deviceID", deviceID))
		return nil, ErrRateLimited
	}

	if _, err := c.store.Get(deviceID); err == nil {
		return nil, ErrAlreadyPaired
	}
	if c.store.ActiveCount() >= c.config.MaxDevices {
		return nil, ErrDeviceLimit
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &entities.PairingSession{
		PairingID:  "pair_" + uuid.NewString(),
		DeviceID:   deviceID,
		DeviceName: deviceName,
		DeviceType: deviceType,
		OSVersion:  osVersion,
		Code:       code,
		State:      entities.PairingStateAwaitingVerification,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.config.SessionTTL),
	}

	c.mu.Lock()
	c.sessions[session.PairingID] = session
	c.mu.Unlock()

	c.logger.Info("Pairing initiated",
		zap.String("deviceID", deviceID),
		zap.String("deviceName", deviceName),
		zap.String("pairingID", session.PairingID),
		zap.Time("expiresAt", session.ExpiresAt))

	return session, nil
}

// Verify checks the code and, on success, issues the trust bundle. The
// session is single-use: exactly one successful verify per pairing id.
func (c *Coordinator) Verify(ctx context.Context, pairingID, code, deviceID, publicKeyPEM string) (*entities.TrustBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[pairingID]
	if !ok {
		return nil, ErrPairingNotFound
	}

	if session.State == entities.PairingStateFailed {
		return nil, ErrTooManyAttempts
	}
	if session.State == entities.PairingStateCompleted {
		return nil, ErrPairingConsumed
	}
	if session.IsExpired() {
		session.State = entities.PairingStateExpired
		return nil, ErrPairingExpired
	}
	if !session.Verifiable() {
		return nil, ErrPairingConsumed
	}
	if session.DeviceID != deviceID {
		return nil, ErrDeviceMismatch
	}

	if !codesEqual(session.Code, code) {
		session.FailedAttempts++
		c.logger.Warn("Invalid pairing code",
			zap.String("pairingID", pairingID),
			zap.String("deviceID", deviceID),
			zap.Int("failedAttempts", session.FailedAttempts))
		if session.FailedAttempts >= c.config.MaxAttempts {
			session.State = entities.PairingStateFailed
			return nil, ErrTooManyAttempts
		}
		return nil, ErrInvalidCode
	}

	issued, err := c.ca.IssueClientCertificate(deviceID, publicKeyPEM)
	if err != nil {
		c.logger.Error("Certificate issuance failed",
			zap.String("deviceID", deviceID),
			zap.Error(err))
		return nil, err
	}

	token, expiresAt, err := c.tokens.GenerateDeviceToken(deviceID)
	if err != nil {
		c.logger.Error("Token generation failed",
			zap.String("deviceID", deviceID),
			zap.Error(err))
		return nil, err
	}

	bundle := &entities.TrustBundle{
		DeviceID:          deviceID,
		CACertificate:     issued.CACertificate,
		ClientCertificate: issued.ClientCertificate,
		ClientPrivateKey:  issued.PrivateKey,
		AuthToken:         token,
		TokenExpiresAt:    expiresAt,
	}
	if err := c.store.Put(bundle); err != nil {
		return nil, err
	}

	session.State = entities.PairingStateCompleted
	session.Code = "" // single-use

	c.logger.Info("Pairing completed",
		zap.String("pairingID", pairingID),
		zap.String("deviceID", deviceID),
		zap.String("deviceName", session.DeviceName))

	return bundle, nil
}

// Status returns the current state of a pairing session, marking it
// expired first if the clock has run out.
func (c *Coordinator) Status(pairingID string) (entities.PairingState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[pairingID]
	if !ok {
		return "", ErrPairingNotFound
	}
	if !session.IsTerminal() && session.IsExpired() {
		session.State = entities.PairingStateExpired
	}
	return session.State, nil
}

// Revoke invalidates the device's certificates and token. Connection
// attempts with the old bundle fail authentication from this point on.
func (c *Coordinator) Revoke(ctx context.Context, deviceID string) error {
	if err := c.store.Revoke(deviceID); err != nil {
		return err
	}
	if c.onRevoke != nil {
		c.onRevoke(deviceID)
	}
	c.logger.Info("Pairing revoked", zap.String("deviceID", deviceID))
	return nil
}

// Start begins the background janitor that removes terminal sessions
// after the grace window and expires stale ones.
func (c *Coordinator) Start() {
	go c.cleanupLoop()
}

// Stop halts the janitor.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *Coordinator) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Coordinator) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, session := range c.sessions {
		if !session.IsTerminal() && session.IsExpired() {
			session.State = entities.PairingStateExpired
			c.logger.Info("Pairing session expired",
				zap.String("pairingID", id),
				zap.String("deviceID", session.DeviceID))
		}
		if session.IsTerminal() && now.Sub(session.ExpiresAt) > c.config.GraceWindow {
			delete(c.sessions, id)
		}
	}
	c.limiter.Prune()
}
