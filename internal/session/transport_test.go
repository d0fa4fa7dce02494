package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicelink/agent/domain/entities"
	"github.com/voicelink/agent/internal/auth"
	"github.com/voicelink/agent/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeHost is a minimal host endpoint: it upgrades, announces
// connection_ready, answers pings unless muted, and records every inbound
// message.
type fakeHost struct {
	server *httptest.Server

	mu         sync.Mutex
	mutePings  bool
	frames     []protocol.AudioFrame
	controls   []*protocol.Message
	lastConnID string
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	host := &fakeHost{}
	host.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		connID := uuid.NewString()
		host.mu.Lock()
		host.lastConnID = connID
		host.mu.Unlock()

		ready, _ := protocol.NewMessage(protocol.MessageTypeConnectionReady, protocol.ConnectionReadyPayload{
			ServerVersion:   "1.0.0",
			MaxAudioRate:    48000,
			SupportedCodecs: []string{"opus"},
			ConnectionID:    connID,
		})
		data, _ := ready.Encode()
		conn.WriteMessage(websocket.TextMessage, data)

		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				frame, err := protocol.DecodeFrame(payload)
				if err != nil {
					continue
				}
				host.mu.Lock()
				host.frames = append(host.frames, frame)
				host.mu.Unlock()
			case websocket.TextMessage:
				msg, err := protocol.Decode(payload)
				if err != nil {
					continue
				}
				host.mu.Lock()
				host.controls = append(host.controls, msg)
				muted := host.mutePings
				host.mu.Unlock()
				if msg.Type == protocol.MessageTypePing && !muted {
					pong, _ := protocol.NewMessage(protocol.MessageTypePong, protocol.PongPayload{LatencyMs: 1})
					data, _ := pong.Encode()
					conn.WriteMessage(websocket.TextMessage, data)
				}
			}
		}
	}))
	t.Cleanup(host.server.Close)
	return host
}

func (h *fakeHost) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http")
}

func (h *fakeHost) setMutePings(mute bool) {
	h.mu.Lock()
	h.mutePings = mute
	h.mu.Unlock()
}

func (h *fakeHost) receivedFrames() []protocol.AudioFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.AudioFrame, len(h.frames))
	copy(out, h.frames)
	return out
}

func (h *fakeHost) connectionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastConnID
}

var (
	testCAPEM  string
	testCAOnce sync.Once
)

// testCertPEM returns a real CA certificate so bundles pass TLS material
// validation. Generated once per package run; key generation is slow.
func testCertPEM() string {
	testCAOnce.Do(func() {
		ca, err := auth.NewCertificateAuthority()
		if err != nil {
			panic(err)
		}
		testCAPEM = ca.CACertificatePEM()
	})
	return testCAPEM
}

func validBundle() *entities.TrustBundle {
	return &entities.TrustBundle{
		DeviceID:          "device-1",
		CACertificate:     testCertPEM(),
		ClientCertificate: testCertPEM(),
		AuthToken:         "test-token",
		TokenExpiresAt:    time.Now().Add(24 * time.Hour),
	}
}

func openTestTransport(t *testing.T, host *fakeHost) *Transport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	transport, err := Open(ctx, host.url(), validBundle(), zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { transport.Close("test done") })
	return transport
}

func TestOpenHandshake(t *testing.T) {
	host := newFakeHost(t)
	transport := openTestTransport(t, host)

	if transport.Connection().State() != entities.ConnectionStateOpen {
		t.Errorf("state = %s, want open", transport.Connection().State())
	}
	if transport.Connection().ConnectionID != host.connectionID() {
		t.Errorf("connection id = %s, want %s",
			transport.Connection().ConnectionID, host.connectionID())
	}
}

func TestOpenRejectsExpiredToken(t *testing.T) {
	host := newFakeHost(t)
	bundle := validBundle()
	bundle.TokenExpiresAt = time.Now().Add(-time.Minute)

	if _, err := Open(context.Background(), host.url(), bundle, zap.NewNop()); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Open error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestOpenRejectsIncompleteBundle(t *testing.T) {
	host := newFakeHost(t)
	bundle := validBundle()
	bundle.AuthToken = ""

	if _, err := Open(context.Background(), host.url(), bundle, zap.NewNop()); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Open error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestOpenRejectsCorruptCACertificate(t *testing.T) {
	host := newFakeHost(t)
	bundle := validBundle()
	bundle.CACertificate = "-----BEGIN CERTIFICATE-----\nnot a certificate\n-----END CERTIFICATE-----\n"

	// A bundle whose CA cannot be parsed must fail outright rather than
	// dial with the default root pool.
	if _, err := Open(context.Background(), host.url(), bundle, zap.NewNop()); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Open error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestOpenUnreachableHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Open(ctx, "ws://127.0.0.1:1/ws", validBundle(), zap.NewNop())
	if !errors.Is(err, ErrNetworkUnreachable) && !errors.Is(err, ErrConnectionTimeout) {
		t.Errorf("Open error = %v, want unreachable or timeout", err)
	}
}

func TestAudioFramesRequireActiveCommand(t *testing.T) {
	host := newFakeHost(t)
	transport := openTestTransport(t, host)

	if err := transport.SendAudioFrame([]byte{0x01}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SendAudioFrame before start = %v, want ErrInvalidState", err)
	}

	if err := transport.StartCommand("en-US"); err != nil {
		t.Fatalf("StartCommand failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := transport.SendAudioFrame([]byte{byte(i)}); err != nil {
			t.Fatalf("SendAudioFrame %d failed: %v", i, err)
		}
	}
	if err := transport.EndCommand(1200); err != nil {
		t.Fatalf("EndCommand failed: %v", err)
	}

	if err := transport.SendAudioFrame([]byte{0x09}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SendAudioFrame after end = %v, want ErrInvalidState", err)
	}

	// Wait for the frames to land on the host.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(host.receivedFrames()) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	frames := host.receivedFrames()
	if len(frames) != 3 {
		t.Fatalf("host received %d frames, want 3", len(frames))
	}
	for i, frame := range frames {
		if frame.Sequence != uint32(i) {
			t.Errorf("frame %d has sequence %d", i, frame.Sequence)
		}
	}
}

func TestSequenceRestartsPerCommand(t *testing.T) {
	host := newFakeHost(t)
	transport := openTestTransport(t, host)

	if err := transport.StartCommand("en-US"); err != nil {
		t.Fatalf("StartCommand failed: %v", err)
	}
	transport.SendAudioFrame([]byte{0x01})
	transport.SendAudioFrame([]byte{0x02})
	transport.EndCommand(500)

	if err := transport.StartCommand("en-US"); err != nil {
		t.Fatalf("second StartCommand failed: %v", err)
	}
	transport.SendAudioFrame([]byte{0x03})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(host.receivedFrames()) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	frames := host.receivedFrames()
	if len(frames) != 3 {
		t.Fatalf("host received %d frames, want 3", len(frames))
	}
	if frames[2].Sequence != 0 {
		t.Errorf("first frame of second command has sequence %d, want 0", frames[2].Sequence)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	host := newFakeHost(t)
	transport := openTestTransport(t, host)

	transport.Close("first")
	transport.Close("second")

	if transport.Connection().State() != entities.ConnectionStateClosed {
		t.Errorf("state = %s, want closed", transport.Connection().State())
	}

	select {
	case <-transport.Done():
	default:
		t.Error("Done channel should be closed")
	}

	if err := transport.SendControl(protocol.MessageTypePing, protocol.PingPayload{}); !errors.Is(err, ErrClosed) {
		t.Errorf("SendControl after close = %v, want ErrClosed", err)
	}
}
