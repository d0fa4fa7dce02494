package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voicelink/agent/domain/entities"
)

func waitForState(t *testing.T, r *Reconnector, want HealthState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", r.State(), want)
}

func TestReconnectorRecoversAfterFailures(t *testing.T) {
	host := newFakeHost(t)
	transport := openTestTransport(t, host)

	var attempts atomic.Int32
	dial := func(ctx context.Context) (*Transport, error) {
		if attempts.Add(1) <= 2 {
			return nil, ErrNetworkUnreachable
		}
		return Open(ctx, host.url(), validBundle(), zap.NewNop())
	}

	config := ReconnectConfig{
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
		MaxFailures: 8,
		GracePeriod: 5 * time.Second,
	}
	r := NewReconnector(transport, dial, config, zap.NewNop())

	reconnected := make(chan *Transport, 1)
	r.OnReconnected(func(tr *Transport) { reconnected <- tr })

	oldID := transport.Connection().ConnectionID
	r.TriggerReconnect(context.Background())

	select {
	case fresh := <-reconnected:
		if fresh.Connection().ConnectionID == oldID {
			t.Error("reconnect must produce a new connection id")
		}
		fresh.Close("test done")
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not complete")
	}

	if r.State() != HealthHealthy {
		t.Errorf("state = %s, want healthy", r.State())
	}
	if attempts.Load() != 3 {
		t.Errorf("dial attempts = %d, want 3", attempts.Load())
	}

	// The superseded transport was torn down.
	select {
	case <-transport.Done():
	default:
		t.Error("old transport should be closed")
	}
}

func TestReconnectorGivesUpAfterMaxFailures(t *testing.T) {
	host := newFakeHost(t)
	transport := openTestTransport(t, host)

	var attempts atomic.Int32
	dial := func(ctx context.Context) (*Transport, error) {
		attempts.Add(1)
		return nil, ErrNetworkUnreachable
	}

	config := ReconnectConfig{
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		MaxFailures: 3,
		GracePeriod: 5 * time.Second,
	}
	r := NewReconnector(transport, dial, config, zap.NewNop())

	var graceExpired atomic.Bool
	r.OnGraceExpired(func() { graceExpired.Store(true) })

	r.TriggerReconnect(context.Background())
	waitForState(t, r, HealthFailed, 2*time.Second)

	if attempts.Load() != 3 {
		t.Errorf("dial attempts = %d, want 3", attempts.Load())
	}
	if !graceExpired.Load() {
		t.Error("expected the held command to be released on failure")
	}

	// Failed is sticky.
	r.MarkSuspect()
	if r.State() != HealthFailed {
		t.Errorf("state after MarkSuspect = %s, want failed", r.State())
	}
}

func TestReconnectorAuthFailureIsFatal(t *testing.T) {
	host := newFakeHost(t)
	transport := openTestTransport(t, host)

	var attempts atomic.Int32
	dial := func(ctx context.Context) (*Transport, error) {
		attempts.Add(1)
		return nil, ErrAuthenticationFailed
	}

	config := DefaultReconnectConfig()
	config.BackoffBase = time.Millisecond
	r := NewReconnector(transport, dial, config, zap.NewNop())

	r.TriggerReconnect(context.Background())
	waitForState(t, r, HealthFailed, 2*time.Second)

	if attempts.Load() != 1 {
		t.Errorf("dial attempts = %d, want 1 (no retry on auth failure)", attempts.Load())
	}
}

func TestReconnectorGraceTimerFires(t *testing.T) {
	host := newFakeHost(t)
	transport := openTestTransport(t, host)

	dial := func(ctx context.Context) (*Transport, error) {
		return nil, ErrNetworkUnreachable
	}

	config := ReconnectConfig{
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  time.Second,
		MaxFailures: 100,
		GracePeriod: 30 * time.Millisecond,
	}
	r := NewReconnector(transport, dial, config, zap.NewNop())

	graceExpired := make(chan struct{}, 1)
	r.OnGraceExpired(func() {
		select {
		case graceExpired <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.TriggerReconnect(ctx)

	select {
	case <-graceExpired:
	case <-time.After(time.Second):
		t.Fatal("grace period did not expire while reconnecting")
	}
}

func TestRepeatedTriggersAreNoOps(t *testing.T) {
	host := newFakeHost(t)
	transport := openTestTransport(t, host)

	var attempts atomic.Int32
	release := make(chan struct{})
	dial := func(ctx context.Context) (*Transport, error) {
		attempts.Add(1)
		<-release
		return Open(ctx, host.url(), validBundle(), zap.NewNop())
	}

	r := NewReconnector(transport, dial, DefaultReconnectConfig(), zap.NewNop())
	reconnected := make(chan *Transport, 1)
	r.OnReconnected(func(tr *Transport) { reconnected <- tr })

	r.TriggerReconnect(context.Background())
	r.TriggerReconnect(context.Background())
	r.TriggerReconnect(context.Background())
	close(release)

	select {
	case fresh := <-reconnected:
		fresh.Close("test done")
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not complete")
	}

	if attempts.Load() != 1 {
		t.Errorf("dial attempts = %d, want 1", attempts.Load())
	}
}

// Two consecutive missed heartbeats escalate into a reconnect that yields
// a fresh connection id.
func TestHeartbeatEscalationDrivesReconnect(t *testing.T) {
	host := newFakeHost(t)
	transport := openTestTransport(t, host)
	oldID := transport.Connection().ConnectionID

	dial := func(ctx context.Context) (*Transport, error) {
		return Open(ctx, host.url(), validBundle(), zap.NewNop())
	}

	config := DefaultReconnectConfig()
	config.BackoffBase = 5 * time.Millisecond
	r := NewReconnector(transport, dial, config, zap.NewNop())

	reconnected := make(chan *Transport, 1)
	r.OnReconnected(func(tr *Transport) { reconnected <- tr })

	monitor := NewHeartbeatMonitor(transport, HeartbeatConfig{
		Interval: 20 * time.Millisecond,
		Timeout:  20 * time.Millisecond,
	}, zap.NewNop())
	monitor.OnSuspect(func() { r.MarkSuspect() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.OnEscalate(func() { r.TriggerReconnect(ctx) })

	host.setMutePings(true)
	go monitor.Run(ctx)

	select {
	case fresh := <-reconnected:
		if fresh.Connection().ConnectionID == oldID {
			t.Error("expected a fresh connection id after reconnect")
		}
		if fresh.Connection().State() != entities.ConnectionStateOpen {
			t.Errorf("state = %s, want open", fresh.Connection().State())
		}
		fresh.Close("test done")
	case <-time.After(3 * time.Second):
		t.Fatal("escalation did not drive a reconnect")
	}
}
