// Package auth resolves request credentials to actors: HS256 bearer tokens
// issued by the marketplace identity service, and the bcrypt-hashed bypass
// key used by trusted server-to-server callers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classifieds/internal/types"
)

// Claims are the bearer token claims. The subject is the marketplace user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// TokenVerifierConfig configures a TokenVerifier. Issuer and Audience are
// only enforced when set.
type TokenVerifierConfig struct {
	Secret    types.SecretString
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Clock     types.Clock
}

// TokenVerifier validates bearer tokens.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
	clock  types.Clock
}

// NewTokenVerifier creates a TokenVerifier.
func NewTokenVerifier(cfg TokenVerifierConfig) *TokenVerifier {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithTimeFunc(clock.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &TokenVerifier{
		secret: []byte(cfg.Secret.Unmask()),
		parser: jwt.NewParser(opts...),
		clock:  clock,
	}
}

// Verify parses a bearer token and returns the user actor it names.
func (v *TokenVerifier) Verify(token string) (types.Actor, error) {
	if token == "" {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing bearer token", nil)
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenExpired, "token expired", err)
		}
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", err)
	}

	if claims.Subject == "" {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}
	return types.Actor{ID: claims.Subject, Type: types.ActorTypeUser}, nil
}

// Issue signs a token for userID valid for ttl. It exists for operators and
// tests; production tokens come from the identity service.
func (v *TokenVerifier) Issue(userID string, ttl time.Duration, issuer string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("issuing token: empty subject")
	}
	now := v.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
