package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port      string
	JWTSecret string
	TokenTTL  time.Duration

	// UseMocks swaps the Google Speech and Gemini adapters for local
	// mocks so the agent can run without cloud credentials.
	UseMocks bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:     "8080",
		TokenTTL: 24 * time.Hour,
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// JWT_SECRET is optional: an ephemeral secret is generated when it
	// is absent, which invalidates tokens across restarts.
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	} else {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		cfg.JWTSecret = hex.EncodeToString(buf)
	}

	if hours := os.Getenv("TOKEN_TTL_HOURS"); hours != "" {
		if n, err := strconv.Atoi(hours); err == nil && n > 0 {
			cfg.TokenTTL = time.Duration(n) * time.Hour
		}
	}

	cfg.UseMocks = os.Getenv("USE_MOCKS") == "true" || os.Getenv("GEMINI_API_KEY") == ""

	return cfg, nil
}
