package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/voicelink/agent/internal/auth"
	"github.com/voicelink/agent/internal/hub"
	"github.com/voicelink/agent/internal/pairing"
)

// InitRoutes initializes all API routes
func InitRoutes(
	e *echo.Echo,
	h *hub.Hub,
	coordinator *pairing.Coordinator,
	tokens *auth.TokenIssuer,
	store pairing.TrustRegistry,
	logger *zap.Logger,
) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "voicelink-agent",
		})
	})

	v1 := e.Group("/api/v1")

	v1.POST("/pair/initiate", func(c echo.Context) error {
		return initiatePairing(c, coordinator, logger)
	})
	v1.POST("/pair/verify", func(c echo.Context) error {
		return verifyPairing(c, coordinator, logger)
	})
	v1.GET("/pair/:id/status", func(c echo.Context) error {
		return pairingStatus(c, coordinator)
	})
	v1.DELETE("/devices/:id", func(c echo.Context) error {
		return revokeDevice(c, coordinator, logger)
	})

	// Session endpoint with bearer-token validation
	e.GET("/ws", func(c echo.Context) error {
		return sessionWithAuth(h, c, tokens, store, logger)
	})
}

func initiatePairing(c echo.Context, coordinator *pairing.Coordinator, logger *zap.Logger) error {
	var req InitiatePairingRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind initiate request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.DeviceName == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Device name is required",
		})
	}
	if req.DeviceID == "" {
		req.DeviceID = uuid.NewString()
	}

	session, err := coordinator.Initiate(c.Request().Context(), req.DeviceName, req.DeviceID, req.DeviceType, req.OSVersion, c.RealIP())
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrRateLimited):
			return c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate_limited",
				Message: err.Error(),
			})
		case errors.Is(err, pairing.ErrAlreadyPaired), errors.Is(err, pairing.ErrDeviceLimit):
			return c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "pairing_rejected",
				Message: err.Error(),
			})
		default:
			logger.Error("Pairing initiation failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to initiate pairing",
			})
		}
	}

	return c.JSON(http.StatusCreated, InitiatePairingResponse{
		PairingID:   session.PairingID,
		DeviceID:    session.DeviceID,
		PairingCode: session.Code,
		ExpiresAt:   session.ExpiresAt,
	})
}

func verifyPairing(c echo.Context, coordinator *pairing.Coordinator, logger *zap.Logger) error {
	var req VerifyPairingRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind verify request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.PairingID == "" || req.PairingCode == "" || req.DeviceID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Pairing ID, code and device ID are required",
		})
	}

	bundle, err := coordinator.Verify(c.Request().Context(), req.PairingID, req.PairingCode, req.DeviceID, req.PublicKey)
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrInvalidCode), errors.Is(err, pairing.ErrDeviceMismatch):
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_code",
				Message: err.Error(),
			})
		case errors.Is(err, pairing.ErrPairingExpired):
			return c.JSON(http.StatusGone, ErrorResponse{
				Error:   "pairing_expired",
				Message: err.Error(),
			})
		case errors.Is(err, pairing.ErrTooManyAttempts):
			return c.JSON(http.StatusLocked, ErrorResponse{
				Error:   "pairing_locked",
				Message: err.Error(),
			})
		case errors.Is(err, pairing.ErrPairingConsumed):
			return c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "pairing_consumed",
				Message: err.Error(),
			})
		case errors.Is(err, pairing.ErrPairingNotFound):
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "pairing_not_found",
				Message: err.Error(),
			})
		default:
			logger.Error("Pairing verification failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to verify pairing",
			})
		}
	}

	return c.JSON(http.StatusOK, VerifyPairingResponse{
		DeviceID:          bundle.DeviceID,
		ClientCertificate: bundle.ClientCertificate,
		CACertificate:     bundle.CACertificate,
		ClientPrivateKey:  bundle.ClientPrivateKey,
		AuthToken:         bundle.AuthToken,
		ExpiresAt:         bundle.TokenExpiresAt,
	})
}

func pairingStatus(c echo.Context, coordinator *pairing.Coordinator) error {
	pairingID := c.Param("id")
	state, err := coordinator.Status(pairingID)
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "pairing_not_found",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, PairingStatusResponse{
		PairingID: pairingID,
		State:     string(state),
	})
}

func revokeDevice(c echo.Context, coordinator *pairing.Coordinator, logger *zap.Logger) error {
	deviceID := c.Param("id")
	if err := coordinator.Revoke(c.Request().Context(), deviceID); err != nil {
		logger.Error("Revocation failed", zap.String("device_id", deviceID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to revoke device",
		})
	}
	return c.NoContent(http.StatusNoContent)
}

// sessionWithAuth validates the bearer token, checks revocation, then
// hands the connection to the hub.
func sessionWithAuth(h *hub.Hub, c echo.Context, tokens *auth.TokenIssuer, store pairing.TrustRegistry, logger *zap.Logger) error {
	var token string
	authHeader := c.Request().Header.Get("Authorization")
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		token = authHeader[7:]
	}

	if token == "" {
		logger.Warn("Session rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "Bearer token is required in Authorization header",
		})
	}

	claims, err := tokens.ValidateToken(token)
	if err != nil {
		logger.Warn("Session rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired token",
		})
	}

	if claims.Role != "device" || claims.DeviceID == "" {
		logger.Warn("Session rejected: invalid claims", zap.String("role", claims.Role))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Only device tokens may open sessions",
		})
	}

	if store.IsRevoked(claims.DeviceID) {
		logger.Warn("Session rejected: device revoked", zap.String("device_id", claims.DeviceID))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "device_revoked",
			Message: "Device credentials have been revoked",
		})
	}
	if _, err := store.Get(claims.DeviceID); err != nil {
		logger.Warn("Session rejected: no trust bundle", zap.String("device_id", claims.DeviceID))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "device_not_paired",
			Message: "Device is not paired with this host",
		})
	}

	logger.Info("Session authenticated", zap.String("device_id", claims.DeviceID))
	return hub.Serve(h, c, claims.DeviceID, logger)
}
