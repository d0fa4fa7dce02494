package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceClaims represents the claims in a device bearer token
type DeviceClaims struct {
	DeviceID string `json:"device_id"`
	Role     string `json:"role"` // always "device"
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates device bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a token issuer with the given signing secret and
// token lifetime.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// GenerateDeviceToken generates a JWT token for device authentication
func (i *TokenIssuer) GenerateDeviceToken(deviceID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(i.ttl)
	claims := &DeviceClaims{
		DeviceID: deviceID,
		Role:     "device",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (i *TokenIssuer) ValidateToken(tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*DeviceClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}
