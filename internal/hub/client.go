package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/voicelink/agent/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer.
	readWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio frames
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Paired devices authenticate with bearer tokens, not cookies.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WriteData is one outbound websocket message. Type distinguishes the
// binary audio sub-channel from the JSON control sub-channel at the
// opcode level; the two are never conflated.
type WriteData struct {
	Type    int
	Payload []byte
}

// Client is one authenticated device session on the host side.
type Client struct {
	hub *Hub

	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	deviceID     string
	connectionID string

	logger *zap.Logger

	// The single active command, nil between commands.
	run *commandRun

	closeOnce sync.Once
	mutex     sync.Mutex
}

// Serve upgrades the request and runs a session for an authenticated
// device until the connection drops.
func Serve(hub *Hub, c echo.Context, deviceID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan WriteData, 256),
		deviceID:     deviceID,
		connectionID: uuid.NewString(),
		logger:       logger,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	client.sendControl(protocol.MessageTypeConnectionReady, protocol.ConnectionReadyPayload{
		ServerVersion:   hub.config.ServerVersion,
		MaxAudioRate:    hub.config.MaxAudioRate,
		SupportedCodecs: hub.config.SupportedCodecs,
		ConnectionID:    client.connectionID,
	})

	return nil
}

// readPump pumps messages from the websocket connection into the command
// lifecycle. One goroutine owns all reads for the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))

		switch messageType {
		case websocket.TextMessage:
			c.processControl(message)
		case websocket.BinaryMessage:
			c.processAudioFrame(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps queued messages to the websocket connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
			c.logger.Error("Failed to write message", zap.Error(err))
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// shutdown cancels the in-flight command and tears the connection down.
// Idempotent; callable from the hub loop and the revocation path.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mutex.Lock()
		run := c.run
		c.mutex.Unlock()
		if run != nil {
			run.cancel("connection closed")
		}
		close(c.send)
	})
}

// processControl dispatches one JSON control message.
func (c *Client) processControl(message []byte) {
	msg, err := protocol.Decode(message)
	if err != nil {
		c.logger.Error("Failed to parse control message", zap.Error(err))
		c.sendError("", protocol.ErrorCodeCommandInvalid, err.Error(), false)
		return
	}

	switch msg.Type {
	case protocol.MessageTypeStartCommand:
		c.handleStartCommand(msg)
	case protocol.MessageTypeEndCommand:
		c.handleEndCommand(msg)
	case protocol.MessageTypeCancelCommand:
		c.handleCancelCommand(msg)
	case protocol.MessageTypeConfirmationResponse:
		c.handleConfirmationResponse(msg)
	case protocol.MessageTypePing:
		c.handlePing(msg)
	default:
		c.logger.Warn("Unexpected control message from client", zap.String("type", string(msg.Type)))
	}
}

// processAudioFrame feeds one binary frame into the active command's
// transcription stream, tracking sequence gaps.
func (c *Client) processAudioFrame(data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		c.logger.Error("Malformed audio frame",
			zap.String("deviceID", c.deviceID),
			zap.Error(err))
		return
	}

	c.mutex.Lock()
	run := c.run
	c.mutex.Unlock()

	if run == nil {
		c.logger.Warn("Audio frame with no active command",
			zap.String("deviceID", c.deviceID),
			zap.Uint32("sequence", frame.Sequence))
		return
	}

	run.feedAudio(frame)
}

// handlePing answers with the one-way delay derived from the envelope
// timestamp. Envelopes carry sub-second precision; skewed clocks clamp
// to zero rather than reporting negative latency.
func (c *Client) handlePing(msg *protocol.Message) {
	var latency int64
	if sent, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
		if elapsed := time.Since(sent).Milliseconds(); elapsed >= 0 {
			latency = elapsed
		}
	}
	c.sendControl(protocol.MessageTypePong, protocol.PongPayload{LatencyMs: latency})
}

func (c *Client) handleStartCommand(msg *protocol.Message) {
	var payload protocol.StartCommandPayload
	if err := msg.DecodePayload(&payload); err != nil {
		c.sendError("", protocol.ErrorCodeCommandInvalid, err.Error(), false)
		return
	}

	c.mutex.Lock()
	if c.run != nil && !c.run.finished() {
		active := c.run.cmd.CommandID
		c.mutex.Unlock()
		c.sendError(active, protocol.ErrorCodeCommandInvalid,
			"another command is already in progress", false)
		return
	}

	run, err := newCommandRun(c, payload.Language)
	if err != nil {
		c.mutex.Unlock()
		c.logger.Error("Failed to start command",
			zap.String("deviceID", c.deviceID),
			zap.Error(err))
		c.sendError("", protocol.ErrorCodeSttFailed, "could not start transcription", true)
		return
	}
	c.run = run
	c.mutex.Unlock()

	c.logger.Info("Command started",
		zap.String("deviceID", c.deviceID),
		zap.String("commandID", run.cmd.CommandID),
		zap.String("language", payload.Language))
}

func (c *Client) handleEndCommand(msg *protocol.Message) {
	var payload protocol.EndCommandPayload
	if err := msg.DecodePayload(&payload); err != nil {
		c.sendError("", protocol.ErrorCodeCommandInvalid, err.Error(), false)
		return
	}

	c.mutex.Lock()
	run := c.run
	c.mutex.Unlock()

	if run == nil {
		c.sendError("", protocol.ErrorCodeCommandInvalid, "no command in progress", false)
		return
	}
	run.endCapture(payload.DurationMs)
}

func (c *Client) handleCancelCommand(msg *protocol.Message) {
	var payload protocol.CancelCommandPayload
	if err := msg.DecodePayload(&payload); err != nil {
		c.sendError("", protocol.ErrorCodeCommandInvalid, err.Error(), false)
		return
	}

	c.mutex.Lock()
	run := c.run
	c.mutex.Unlock()

	if run == nil || run.cmd.CommandID != payload.CommandID {
		// Cancelling an unknown or finished command is a no-op.
		return
	}
	run.cancel(payload.Reason)
}

func (c *Client) handleConfirmationResponse(msg *protocol.Message) {
	var payload protocol.ConfirmationResponsePayload
	if err := msg.DecodePayload(&payload); err != nil {
		c.sendError("", protocol.ErrorCodeCommandInvalid, err.Error(), false)
		return
	}

	c.mutex.Lock()
	run := c.run
	c.mutex.Unlock()

	if run == nil || run.cmd.CommandID != payload.CommandID {
		c.logger.Warn("Confirmation for unknown command",
			zap.String("deviceID", c.deviceID),
			zap.String("commandID", payload.CommandID))
		return
	}
	run.confirm(payload.Confirmed)
}

// sendControl queues a control message on the text sub-channel. The send
// never blocks the read loop; a full buffer drops the connection instead.
func (c *Client) sendControl(msgType protocol.MessageType, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		c.logger.Error("Failed to build control message", zap.Error(err))
		return
	}
	data, err := msg.Encode()
	if err != nil {
		c.logger.Error("Failed to encode control message", zap.Error(err))
		return
	}

	defer func() {
		// The send channel may already be closed by shutdown.
		recover()
	}()
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: data}:
	default:
		c.logger.Warn("Send buffer full, dropping connection",
			zap.String("deviceID", c.deviceID))
		c.conn.Close()
	}
}

func (c *Client) sendError(commandID, code, message string, recoverable bool) {
	c.sendControl(protocol.MessageTypeError, protocol.ErrorPayload{
		CommandID:   commandID,
		ErrorCode:   code,
		Message:     message,
		Recoverable: recoverable,
	})
}
