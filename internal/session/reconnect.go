package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthState tracks the supervisor's view of the session connection.
type HealthState string

const (
	HealthHealthy      HealthState = "healthy"
	HealthSuspect      HealthState = "suspect"
	HealthReconnecting HealthState = "reconnecting"
	HealthFailed       HealthState = "failed"
)

// ReconnectConfig holds the backoff and grace tunables.
type ReconnectConfig struct {
	BackoffBase time.Duration // first retry delay
	BackoffMax  time.Duration // delay ceiling
	MaxFailures int           // consecutive failures before giving up
	GracePeriod time.Duration // how long an in-flight command is held
}

// DefaultReconnectConfig returns the production backoff policy.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
		MaxFailures: 8,
		GracePeriod: 45 * time.Second,
	}
}

// DialFunc opens a fresh transport. Each successful call yields a new
// connection id.
type DialFunc func(ctx context.Context) (*Transport, error)

// Reconnector supervises transport health:
// Healthy -> Suspect (missed heartbeat) -> Reconnecting -> Healthy | Failed.
// Backoff doubles per consecutive failure up to the ceiling and resets on
// the next successful open. While Reconnecting, the in-flight command is
// held until the grace period elapses, bounding how long a user-visible
// command can appear stuck.
type Reconnector struct {
	dial   DialFunc
	config ReconnectConfig
	logger *zap.Logger

	mu        sync.Mutex
	state     HealthState
	transport *Transport
	failures  int

	graceTimer *time.Timer

	onStateChange  func(HealthState)
	onReconnected  func(*Transport)
	onGraceExpired func()

	reconnecting bool
}

// NewReconnector creates a supervisor around an established transport.
func NewReconnector(transport *Transport, dial DialFunc, config ReconnectConfig, logger *zap.Logger) *Reconnector {
	return &Reconnector{
		dial:      dial,
		config:    config,
		logger:    logger,
		state:     HealthHealthy,
		transport: transport,
	}
}

// OnStateChange registers a health transition observer.
func (r *Reconnector) OnStateChange(fn func(HealthState)) { r.onStateChange = fn }

// OnReconnected registers the handler given each replacement transport.
func (r *Reconnector) OnReconnected(fn func(*Transport)) { r.onReconnected = fn }

// OnGraceExpired registers the handler that forces a held command to
// TimedOut when reconnection outlasts the grace period.
func (r *Reconnector) OnGraceExpired(fn func()) { r.onGraceExpired = fn }

// State returns the current health state.
func (r *Reconnector) State() HealthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Transport returns the current transport.
func (r *Reconnector) Transport() *Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transport
}

// MarkSuspect records a single missed heartbeat.
func (r *Reconnector) MarkSuspect() {
	r.setState(HealthSuspect)
}

// TriggerReconnect tears down the current transport and starts the
// backoff loop. Repeated triggers while reconnecting are no-ops.
func (r *Reconnector) TriggerReconnect(ctx context.Context) {
	r.mu.Lock()
	if r.reconnecting || r.state == HealthFailed {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	old := r.transport
	r.mu.Unlock()

	if old != nil {
		old.Close("reconnecting")
	}
	r.setState(HealthReconnecting)
	r.startGraceTimer()

	go r.reconnectLoop(ctx)
}

func (r *Reconnector) reconnectLoop(ctx context.Context) {
	delay := r.config.BackoffBase

	for {
		transport, err := r.dial(ctx)
		if err == nil {
			r.mu.Lock()
			r.transport = transport
			r.failures = 0
			r.reconnecting = false
			r.mu.Unlock()
			r.stopGraceTimer()
			r.setState(HealthHealthy)
			r.logger.Info("Session reconnected",
				zap.String("connectionID", transport.Connection().ConnectionID))
			if r.onReconnected != nil {
				r.onReconnected(transport)
			}
			return
		}

		// Authentication failures are fatal: retrying with the same
		// credentials cannot succeed.
		if err == ErrAuthenticationFailed {
			r.giveUp(err)
			return
		}

		r.mu.Lock()
		r.failures++
		failures := r.failures
		r.mu.Unlock()

		r.logger.Warn("Reconnect attempt failed",
			zap.Int("attempt", failures),
			zap.Duration("nextDelay", delay),
			zap.Error(err))

		if failures >= r.config.MaxFailures {
			r.giveUp(err)
			return
		}

		select {
		case <-ctx.Done():
			r.giveUp(ctx.Err())
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > r.config.BackoffMax {
			delay = r.config.BackoffMax
		}
	}
}

func (r *Reconnector) giveUp(err error) {
	r.mu.Lock()
	r.reconnecting = false
	r.mu.Unlock()
	r.stopGraceTimer()
	r.setState(HealthFailed)
	r.logger.Error("Reconnection abandoned", zap.Error(err))
	if r.onGraceExpired != nil {
		r.onGraceExpired()
	}
}

func (r *Reconnector) startGraceTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.graceTimer != nil {
		return
	}
	r.graceTimer = time.AfterFunc(r.config.GracePeriod, func() {
		r.mu.Lock()
		r.graceTimer = nil
		r.mu.Unlock()
		r.logger.Warn("Reconnection grace period expired")
		if r.onGraceExpired != nil {
			r.onGraceExpired()
		}
	})
}

func (r *Reconnector) stopGraceTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
}

func (r *Reconnector) setState(s HealthState) {
	r.mu.Lock()
	if r.state == s || r.state == HealthFailed {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()
	if r.onStateChange != nil {
		r.onStateChange(s)
	}
}
