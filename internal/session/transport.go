package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicelink/agent/domain/entities"
	"github.com/voicelink/agent/internal/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	readWait         = 60 * time.Second

	// Outbound buffer sizes. Audio overflow degrades the connection
	// instead of blocking the capture path.
	sendBufferSize    = 256
	controlBufferSize = 64
)

type writeData struct {
	messageType int
	payload     []byte
}

// Transport owns one encrypted duplex connection to the host and
// multiplexes the binary audio sub-channel and the JSON control
// sub-channel over it. The websocket opcode is the discriminator between
// the two; payload content is never sniffed.
type Transport struct {
	conn       *websocket.Conn
	connection *entities.SessionConnection

	send    chan writeData
	control chan *protocol.Message

	onPong func(protocol.PongPayload)

	listening atomic.Bool
	audioSeq  atomic.Uint32

	readyCh   chan struct{}
	readyOnce sync.Once

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.Logger
	mu     sync.Mutex
}

// Open dials the host with the device's trust bundle and blocks until the
// host announces connection_ready. The TLS client authenticates the host
// against the bundle's CA and presents the client certificate when the
// bundle carries its key; the bearer token authenticates the device at
// the application layer.
func Open(ctx context.Context, serverURL string, bundle *entities.TrustBundle, logger *zap.Logger) (*Transport, error) {
	if err := bundle.Validate(); err != nil {
		return nil, ErrAuthenticationFailed
	}
	if bundle.TokenExpired() {
		return nil, ErrAuthenticationFailed
	}

	tlsConfig, err := tlsConfigFromBundle(bundle)
	if err != nil {
		logger.Warn("Trust bundle TLS material rejected", zap.Error(err))
		return nil, ErrAuthenticationFailed
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  tlsConfig,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+bundle.AuthToken)

	conn, resp, err := dialer.DialContext(ctx, serverURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthenticationFailed
		}
		if ctx.Err() != nil {
			return nil, ErrConnectionTimeout
		}
		logger.Warn("Session dial failed", zap.String("url", serverURL), zap.Error(err))
		return nil, ErrNetworkUnreachable
	}

	t := &Transport{
		conn:       conn,
		connection: entities.NewSessionConnection("", bundle.DeviceID),
		send:       make(chan writeData, sendBufferSize),
		control:    make(chan *protocol.Message, controlBufferSize),
		readyCh:    make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}

	go t.readLoop()
	go t.writeLoop()

	select {
	case <-t.readyCh:
	case <-ctx.Done():
		t.Close("handshake cancelled")
		return nil, ErrConnectionTimeout
	case <-time.After(handshakeTimeout):
		t.Close("handshake timed out")
		return nil, ErrConnectionTimeout
	case <-t.done:
		return nil, ErrNetworkUnreachable
	}

	return t, nil
}

func tlsConfigFromBundle(bundle *entities.TrustBundle) (*tls.Config, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(bundle.CACertificate)) {
		return nil, ErrAuthenticationFailed
	}
	config := &tls.Config{RootCAs: pool}
	if bundle.ClientPrivateKey != "" {
		cert, err := tls.X509KeyPair([]byte(bundle.ClientCertificate), []byte(bundle.ClientPrivateKey))
		if err != nil {
			return nil, err
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return config, nil
}

// Connection returns the live connection record.
func (t *Transport) Connection() *entities.SessionConnection {
	return t.connection
}

// Control returns the ordered stream of inbound control messages. The
// channel closes when the transport closes.
func (t *Transport) Control() <-chan *protocol.Message {
	return t.control
}

// OnPong registers the handler that receives pong responses. Pongs are
// routed to the heartbeat monitor instead of the control stream.
func (t *Transport) OnPong(fn func(protocol.PongPayload)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPong = fn
}

// StartCommand opens a new voice command and enables the audio path.
func (t *Transport) StartCommand(language string) error {
	if t.connection.State() != entities.ConnectionStateOpen {
		return ErrInvalidState
	}
	if err := t.SendControl(protocol.MessageTypeStartCommand, protocol.StartCommandPayload{Language: language}); err != nil {
		return err
	}
	t.audioSeq.Store(0)
	t.listening.Store(true)
	return nil
}

// EndCommand closes the audio capture phase of the active command.
func (t *Transport) EndCommand(durationMs int64) error {
	t.listening.Store(false)
	return t.SendControl(protocol.MessageTypeEndCommand, protocol.EndCommandPayload{DurationMs: durationMs})
}

// CancelCommand cancels the active command.
func (t *Transport) CancelCommand(commandID, reason string) error {
	t.listening.Store(false)
	return t.SendControl(protocol.MessageTypeCancelCommand, protocol.CancelCommandPayload{
		CommandID: commandID,
		Reason:    reason,
	})
}

// RespondConfirmation answers a confirmation_request.
func (t *Transport) RespondConfirmation(commandID string, confirmed bool) error {
	return t.SendControl(protocol.MessageTypeConfirmationResponse, protocol.ConfirmationResponsePayload{
		CommandID: commandID,
		Confirmed: confirmed,
	})
}

// SendAudioFrame queues one audio chunk on the binary sub-channel,
// assigning the next sequence number. It never blocks the capture path:
// when the buffer is full the frame is dropped and the connection is
// marked Degraded as backpressure.
func (t *Transport) SendAudioFrame(payload []byte) error {
	state := t.connection.State()
	if state != entities.ConnectionStateOpen && state != entities.ConnectionStateDegraded {
		return ErrInvalidState
	}
	if !t.listening.Load() {
		return ErrInvalidState
	}

	seq := t.audioSeq.Add(1) - 1
	data := protocol.EncodeFrame(protocol.AudioFrame{Sequence: seq, Payload: payload})

	select {
	case <-t.done:
		return ErrClosed
	case t.send <- writeData{messageType: websocket.BinaryMessage, payload: data}:
		return nil
	default:
		t.connection.SetState(entities.ConnectionStateDegraded)
		t.logger.Warn("Audio buffer full, frame dropped",
			zap.Uint32("sequence", seq))
		return nil
	}
}

// SendControl queues one control message on the text sub-channel.
// Control messages are delivered in send order.
func (t *Transport) SendControl(msgType protocol.MessageType, payload any) error {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	select {
	case <-t.done:
		return ErrClosed
	case t.send <- writeData{messageType: websocket.TextMessage, payload: data}:
		return nil
	}
}

// Close initiates graceful shutdown. It always succeeds and is
// idempotent: closing a closed transport is a no-op.
func (t *Transport) Close(reason string) {
	t.closeOnce.Do(func() {
		t.connection.SetState(entities.ConnectionStateClosing)
		t.listening.Store(false)

		t.conn.SetWriteDeadline(time.Now().Add(writeWait))
		t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))

		close(t.done)
		t.conn.Close()
		t.connection.SetState(entities.ConnectionStateClosed)

		t.logger.Info("Session transport closed", zap.String("reason", reason))
	})
}

// Done is closed when the transport has shut down.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) readLoop() {
	defer func() {
		t.Close("read loop ended")
		close(t.control)
	}()

	t.conn.SetReadLimit(protocol.MaxFramePayload + protocol.FrameHeaderSize)
	t.conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("Session read error", zap.Error(err))
			}
			return
		}
		t.conn.SetReadDeadline(time.Now().Add(readWait))

		if messageType != websocket.TextMessage {
			// The host never sends binary frames to the client.
			t.logger.Warn("Unexpected binary message from host")
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			t.logger.Warn("Undecodable control message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case protocol.MessageTypeConnectionReady:
			var payload protocol.ConnectionReadyPayload
			if err := msg.DecodePayload(&payload); err != nil {
				t.logger.Warn("Invalid connection_ready payload", zap.Error(err))
				continue
			}
			t.connection.ConnectionID = payload.ConnectionID
			t.connection.SetState(entities.ConnectionStateOpen)
			t.readyOnce.Do(func() { close(t.readyCh) })

		case protocol.MessageTypePong:
			var payload protocol.PongPayload
			if err := msg.DecodePayload(&payload); err != nil {
				continue
			}
			t.mu.Lock()
			handler := t.onPong
			t.mu.Unlock()
			if handler != nil {
				handler(payload)
			}

		default:
			select {
			case t.control <- msg:
			default:
				t.logger.Warn("Control buffer full, dropping message",
					zap.String("type", string(msg.Type)))
			}
		}
	}
}

func (t *Transport) writeLoop() {
	for {
		select {
		case <-t.done:
			return
		case message := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(message.messageType, message.payload); err != nil {
				t.logger.Warn("Session write error", zap.Error(err))
				t.Close("write failed")
				return
			}
		}
	}
}
