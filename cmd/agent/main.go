package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/voicelink/agent/adapters/executor"
	"github.com/voicelink/agent/adapters/interpreter"
	"github.com/voicelink/agent/adapters/stt"
	"github.com/voicelink/agent/domain/repositories"
	"github.com/voicelink/agent/internal/api"
	"github.com/voicelink/agent/internal/auth"
	"github.com/voicelink/agent/internal/config"
	"github.com/voicelink/agent/internal/hub"
	"github.com/voicelink/agent/internal/pairing"
	"github.com/voicelink/agent/internal/trust"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// .env is optional; real deployments use environment variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Trust material: certificate authority, token issuer, bundle store
	ca, err := auth.NewCertificateAuthority()
	if err != nil {
		logger.Fatal("Failed to create certificate authority", zap.Error(err))
	}
	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)
	store := trust.NewMemoryStore()

	// Initialize adapters
	var speechToText repositories.SpeechToText
	var commandInterpreter repositories.CommandInterpreter
	if cfg.UseMocks {
		logger.Info("Running with mock speech and interpretation adapters")
		speechToText = stt.NewMockSpeechToText(logger)
		commandInterpreter = interpreter.NewMockInterpreter(logger)
	} else {
		speechToText = stt.NewGoogleSpeechToText()
		commandInterpreter, err = interpreter.NewGeminiInterpreter(logger)
		if err != nil {
			logger.Fatal("Failed to create interpreter", zap.Error(err))
		}
	}
	actions := executor.NewLocalExecutor(logger)

	// Initialize session hub
	h := hub.NewHub(hub.DefaultConfig(), speechToText, commandInterpreter, actions, logger)
	go h.Run()

	// Pairing coordinator; revocation tears down any live session
	coordinator := pairing.NewCoordinator(pairing.DefaultConfig(), store, ca, tokens, logger)
	coordinator.OnRevoke(h.CloseDevice)
	coordinator.Start()
	defer coordinator.Stop()

	// Initialize API routes
	api.InitRoutes(e, h, coordinator, tokens, store, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Agent started", zap.String("port", cfg.Port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Agent is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Agent exited")
}
