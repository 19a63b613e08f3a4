package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is returned (wrapped) when a credential is missing or does
// not resolve to a key.
var ErrUnauthorized = errors.New("unauthorized")

// ForbiddenError indicates a resolved caller that may not perform the
// operation.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return e.Reason
}

// Principal is an authenticated caller.
type Principal struct {
	KeyID  string
	UserID string
	Source string
}

// RequireOwner returns ForbiddenError unless callerID owns the resource.
func RequireOwner(ownerID, callerID string) error {
	if callerID == "" || ownerID != callerID {
		return ForbiddenError{Reason: "not authorized"}
	}
	return nil
}

// HashAPIKey returns the stored form of a raw key value.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func unauthorized(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrUnauthorized)
}
