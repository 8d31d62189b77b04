// Package auth signs and verifies the bearer tokens that authenticate task
// dispatch requests between the push backend and the dispatch endpoint.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinKeyLength is the minimum accepted HMAC signing key length.
const MinKeyLength = 32

// tokenLifetime bounds how long a dispatch token stays valid. Delivery plus
// retries comfortably fit inside it.
const tokenLifetime = 15 * time.Minute

// Errors returned by token operations.
var (
	// ErrKeyTooShort is returned when the signing key is shorter than
	// MinKeyLength bytes.
	ErrKeyTooShort = fmt.Errorf("signing key must be at least %d bytes", MinKeyLength)

	// ErrInvalidToken is returned when a token fails verification for any
	// reason.
	ErrInvalidToken = errors.New("invalid dispatch token")
)

// TaskClaims carry enough of the wire task to bind a token to one delivery.
type TaskClaims struct {
	Queue    string `json:"queue"`
	Function string `json:"function"`
	jwt.RegisteredClaims
}

// Sign mints an HS256 token for one task delivery.
func Sign(key []byte, queueName, function string) (string, error) {
	if len(key) < MinKeyLength {
		return "", ErrKeyTooShort
	}

	now := time.Now()
	claims := TaskClaims{
		Queue:    queueName,
		Function: function,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign dispatch token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a dispatch token, returning its claims.
func Verify(key []byte, tokenString string) (*TaskClaims, error) {
	if len(key) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&TaskClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(2*time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*TaskClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
