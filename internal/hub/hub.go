package hub

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicelink/agent/domain/repositories"
)

// Config holds the per-stage command timeouts and retry policy. Every
// non-terminal lifecycle state has a timeout: a command must never remain
// silently pending.
type Config struct {
	ListeningTimeout    time.Duration
	ProcessingTimeout   time.Duration
	InterpretingTimeout time.Duration
	ConfirmationTimeout time.Duration
	ExecutionTimeout    time.Duration
	MaxRetries          int

	ServerVersion   string
	MaxAudioRate    int
	SupportedCodecs []string
}

// DefaultConfig returns the production stage timeouts.
func DefaultConfig() Config {
	return Config{
		ListeningTimeout:    30 * time.Second,
		ProcessingTimeout:   15 * time.Second,
		InterpretingTimeout: 15 * time.Second,
		ConfirmationTimeout: 30 * time.Second,
		ExecutionTimeout:    60 * time.Second,
		MaxRetries:          2,
		ServerVersion:       "1.0.0",
		MaxAudioRate:        48000,
		SupportedCodecs:     []string{"opus", "pcm"},
	}
}

// Hub maintains the set of active session connections. One live
// connection exists per paired device; a newer connection for the same
// device supersedes the old one.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	config      Config
	stt         repositories.SpeechToText
	interpreter repositories.CommandInterpreter
	executor    repositories.ActionExecutor

	logger *zap.Logger
}

// NewHub creates a new session hub.
func NewHub(
	config Config,
	stt repositories.SpeechToText,
	interpreter repositories.CommandInterpreter,
	executor repositories.ActionExecutor,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		config:      config,
		stt:         stt,
		interpreter: interpreter,
		executor:    executor,
		logger:      logger,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.deviceID]; ok {
				old.shutdown()
			}
			h.clients[client.deviceID] = client
			h.mu.Unlock()
			h.logger.Info("Session connected",
				zap.String("deviceID", client.deviceID),
				zap.String("connectionID", client.connectionID))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.deviceID]; ok && current == client {
				delete(h.clients, client.deviceID)
			}
			h.mu.Unlock()
			client.shutdown()
			h.logger.Info("Session disconnected",
				zap.String("deviceID", client.deviceID),
				zap.String("connectionID", client.connectionID))
		}
	}
}

// CloseDevice drops the live connection for a device, if any. Called on
// revocation so superseded credentials cannot keep an open session.
func (h *Hub) CloseDevice(deviceID string) {
	h.mu.Lock()
	client, ok := h.clients[deviceID]
	if ok {
		delete(h.clients, deviceID)
	}
	h.mu.Unlock()
	if ok {
		client.shutdown()
		h.logger.Info("Session closed by revocation", zap.String("deviceID", deviceID))
	}
}
