package core

import (
	"classifieds/internal/types"
)

// TokenVerifier resolves a bearer token to the user it names.
// auth.TokenVerifier is the production implementation.
type TokenVerifier interface {
	// Verify returns auth_token_missing, auth_token_invalid or
	// auth_token_expired AppErrors on failure.
	Verify(token string) (types.Actor, error)
}

// BypassChecker resolves the server-to-server bypass key to the system
// actor. auth.BypassChecker is the production implementation.
type BypassChecker interface {
	Check(key string) (types.Actor, error)
}
