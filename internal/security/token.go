// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinTokenSecretLength is the shortest accepted HMAC secret.
const MinTokenSecretLength = 32

// TokenConfig configures bearer token signing.
type TokenConfig struct {
	Secret string        `koanf:"secret"`
	Issuer string        `koanf:"issuer"`
	TTL    time.Duration `koanf:"ttl"`
}

// Claims are the JWT claims carried by a bearer token.
type Claims struct {
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 bearer tokens bound to a session.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a token issuer.
//
// Returns an error if the secret is shorter than MinTokenSecretLength.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.Secret) < MinTokenSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d characters", MinTokenSecretLength)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "beacon"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &TokenIssuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    time.Now,
	}, nil
}

// Issue signs a token for a session.
//
// The token expires after the configured TTL or at the session's maximum
// lifetime, whichever comes first. A valid token alone does not authorize a
// request: callers also check that the session is still alive, which is how
// logout and idle expiry revoke tokens before they expire.
func (t *TokenIssuer) Issue(s Session) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(expires) {
		expires = s.ExpiresAt
	}

	claims := &Claims{
		SessionID: s.ID,
		Role:      s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   s.ActorID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse validates a token and returns its claims.
//
// Only HS256 is accepted, which rules out "none" and algorithm confusion.
// The issuer must match and the expiry claim is required.
func (t *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
