package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicelink/agent/domain/entities"
	"github.com/voicelink/agent/internal/protocol"
)

const latencyWindowSize = 32

// HeartbeatConfig holds the probe interval and response timeout.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultHeartbeatConfig returns the production probe cadence.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 10 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// HeartbeatMonitor probes the session at a fixed interval. One missed
// pong degrades the connection; two consecutive misses escalate to the
// reconnector. Latency samples are kept in a bounded rolling window for
// diagnostics.
type HeartbeatMonitor struct {
	transport *Transport
	config    HeartbeatConfig
	logger    *zap.Logger

	// onSuspect fires on the first miss, onEscalate on the second
	// consecutive miss.
	onSuspect  func()
	onEscalate func()

	pongCh chan protocol.PongPayload

	mu        sync.Mutex
	latencies []int64
	missed    int
}

// NewHeartbeatMonitor wires a monitor to a transport's pong stream.
func NewHeartbeatMonitor(transport *Transport, config HeartbeatConfig, logger *zap.Logger) *HeartbeatMonitor {
	m := &HeartbeatMonitor{
		transport: transport,
		config:    config,
		logger:    logger,
		pongCh:    make(chan protocol.PongPayload, 1),
	}
	transport.OnPong(func(p protocol.PongPayload) {
		select {
		case m.pongCh <- p:
		default:
		}
	})
	return m
}

// OnSuspect registers the single-miss handler.
func (m *HeartbeatMonitor) OnSuspect(fn func()) { m.onSuspect = fn }

// OnEscalate registers the consecutive-miss handler.
func (m *HeartbeatMonitor) OnEscalate(fn func()) { m.onEscalate = fn }

// Run probes until the context is cancelled or the transport closes.
func (m *HeartbeatMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.transport.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *HeartbeatMonitor) probe(ctx context.Context) {
	sentAt := time.Now()
	if err := m.transport.SendControl(protocol.MessageTypePing, protocol.PingPayload{}); err != nil {
		m.miss()
		return
	}

	select {
	case <-ctx.Done():
	case <-m.transport.Done():
	case <-time.After(m.config.Timeout):
		m.miss()
	case <-m.pongCh:
		latency := time.Since(sentAt).Milliseconds()
		m.recordLatency(latency)
		m.transport.Connection().RecordHeartbeat(latency)
		m.mu.Lock()
		recovered := m.missed > 0
		m.missed = 0
		m.mu.Unlock()
		if recovered && m.transport.Connection().State() == entities.ConnectionStateDegraded {
			m.transport.Connection().SetState(entities.ConnectionStateOpen)
			m.logger.Info("Heartbeat recovered")
		}
	}
}

func (m *HeartbeatMonitor) miss() {
	m.mu.Lock()
	m.missed++
	missed := m.missed
	m.mu.Unlock()

	m.logger.Warn("Heartbeat missed", zap.Int("consecutive", missed))

	if missed == 1 {
		m.transport.Connection().SetState(entities.ConnectionStateDegraded)
		if m.onSuspect != nil {
			m.onSuspect()
		}
		return
	}
	if m.onEscalate != nil {
		m.onEscalate()
	}
}

func (m *HeartbeatMonitor) recordLatency(latencyMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, latencyMs)
	if len(m.latencies) > latencyWindowSize {
		m.latencies = m.latencies[len(m.latencies)-latencyWindowSize:]
	}
}

// Latencies returns a copy of the rolling latency window, oldest first.
func (m *HeartbeatMonitor) Latencies() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.latencies))
	copy(out, m.latencies)
	return out
}
