package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// HashOperatorKey returns the bcrypt hash stored in ARCHSYNC_OPERATOR_KEY_HASH.
func HashOperatorKey(key string) (string, error) {
	if len(key) < 16 {
		return "", errors.New("operator key must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash operator key: %w", err)
	}
	return string(hash), nil
}

// VerifyOperatorKey compares key against the configured hash. An empty hash
// disables key login entirely.
func VerifyOperatorKey(hash, key string) error {
	hash = strings.TrimSpace(hash)
	if hash == "" || key == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
