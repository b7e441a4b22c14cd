package auth

import (
	"golang.org/x/crypto/bcrypt"

	"classifieds/internal/types"
)

// bcryptCost is used when hashing new bypass keys.
const bcryptCost = 12

// BypassChecker validates the privileged server-to-server key against its
// stored bcrypt hash.
type BypassChecker struct {
	hash []byte
}

// NewBypassChecker creates a BypassChecker. An empty hash disables the
// bypass: every key is rejected.
func NewBypassChecker(hash types.SecretString) *BypassChecker {
	return &BypassChecker{hash: []byte(hash.Unmask())}
}

// Enabled reports whether a bypass hash is configured.
func (c *BypassChecker) Enabled() bool {
	return len(c.hash) > 0
}

// Check returns the system actor when key matches the configured hash.
func (c *BypassChecker) Check(key string) (types.Actor, error) {
	if !c.Enabled() || key == "" {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthBypassDenied, "invalid admin key", nil)
	}
	if err := bcrypt.CompareHashAndPassword(c.hash, []byte(key)); err != nil {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthBypassDenied, "invalid admin key", nil)
	}
	return types.SystemActor(), nil
}

// HashBypassKey returns the bcrypt hash to store for key.
func HashBypassKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
