package core

import (
	"sync"

	"classifieds/internal/types"
)

// MockTokenVerifier implements TokenVerifier for tests. Tokens maps a token
// to the user id it resolves to; any other token fails with Err, or with
// auth_token_invalid when Err is nil.
type MockTokenVerifier struct {
	Tokens map[string]string
	Err    error

	mu    sync.Mutex
	Calls []string
}

// Verify implements TokenVerifier.
func (m *MockTokenVerifier) Verify(token string) (types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if userID, ok := m.Tokens[token]; ok {
		return types.Actor{ID: userID, Type: types.ActorTypeUser}, nil
	}
	if m.Err != nil {
		return types.Actor{}, m.Err
	}
	return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", nil)
}

// MockBypassChecker implements BypassChecker for tests. Only Key is
// accepted; an empty Key accepts nothing.
type MockBypassChecker struct {
	Key string
}

// Check implements BypassChecker.
func (m *MockBypassChecker) Check(key string) (types.Actor, error) {
	if m.Key == "" || key != m.Key {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthBypassDenied, "invalid admin key", nil)
	}
	return types.SystemActor(), nil
}
