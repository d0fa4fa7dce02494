package entities

import (
	"sync"
	"time"
)

// ConnectionState represents the transport state of a session connection.
type ConnectionState string

const (
	ConnectionStateConnecting ConnectionState = "connecting"
	ConnectionStateOpen       ConnectionState = "open"
	ConnectionStateDegraded   ConnectionState = "degraded"
	ConnectionStateClosing    ConnectionState = "closing"
	ConnectionStateClosed     ConnectionState = "closed"
)

// SessionConnection tracks one live encrypted duplex channel. A new
// instance (with a new ConnectionID) is created on every reconnect;
// instances are never shared across pairings.
type SessionConnection struct {
	mu sync.RWMutex

	ConnectionID string
	DeviceID     string

	state           ConnectionState
	lastHeartbeatAt time.Time
	latencyMs       int64
}

// NewSessionConnection creates a connection record in the Connecting state.
func NewSessionConnection(connectionID, deviceID string) *SessionConnection {
	return &SessionConnection{
		ConnectionID: connectionID,
		DeviceID:     deviceID,
		state:        ConnectionStateConnecting,
	}
}

// State returns the current transport state.
func (c *SessionConnection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState moves the connection to a new transport state. Closed is
// final; any transition out of Closed is ignored.
func (c *SessionConnection) SetState(s ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ConnectionStateClosed {
		return
	}
	c.state = s
}

// RecordHeartbeat stores the latest liveness sample.
func (c *SessionConnection) RecordHeartbeat(latencyMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeartbeatAt = time.Now()
	c.latencyMs = latencyMs
}

// LastHeartbeat returns the time of the most recent heartbeat response
// and its measured latency.
func (c *SessionConnection) LastHeartbeat() (time.Time, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeatAt, c.latencyMs
}
