// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/audit"
	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
	"github.com/tomtom215/beacon/internal/validation"
)

var (
	// ErrInvalidCredentials is returned for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrTooManyAttempts is wrapped when an origin exceeds its attempt budget.
	ErrTooManyAttempts = errors.New("too many login attempts")

	// ErrUnauthenticated is returned for a missing, invalid or revoked token.
	ErrUnauthenticated = errors.New("authentication required")
)

// UserConfig is one local account.
type UserConfig struct {
	Username     string `koanf:"username"`
	PasswordHash string `koanf:"password_hash"` // bcrypt
	Role         string `koanf:"role"`
}

// AuthConfig configures local accounts.
type AuthConfig struct {
	Users      []UserConfig `koanf:"users"`
	BcryptCost int          `koanf:"bcrypt_cost"`
}

// LoginRequest is a username and password attempt from an origin.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=72"`
	Origin   string `json:"-" validate:"max=256"`
}

// LoginResult is returned for a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Session   Session   `json:"session"`
}

// Authenticator verifies local credentials and issues session tokens. It
// composes the lockout tracker, session registry, token issuer and audit log.
type Authenticator struct {
	users     map[string]UserConfig
	dummyHash []byte

	lockout     *Lockout
	sessions    *Sessions
	tokens      *TokenIssuer
	permissions *Permissions
	auditor     Auditor
	logger      zerolog.Logger
}

// NewAuthenticator creates an authenticator. Each configured user's role is
// assigned in perms.
func NewAuthenticator(cfg AuthConfig, lockout *Lockout, sessions *Sessions, tokens *TokenIssuer, perms *Permissions) (*Authenticator, error) {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("beacon-timing-equalizer"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	users := make(map[string]UserConfig, len(cfg.Users))
	for _, u := range cfg.Users {
		name := strings.ToLower(strings.TrimSpace(u.Username))
		if name == "" {
			return nil, fmt.Errorf("user with empty username")
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %s: invalid bcrypt hash: %w", name, err)
		}
		if err := perms.AssignRole(name, u.Role); err != nil {
			return nil, fmt.Errorf("user %s: %w", name, err)
		}
		users[name] = u
	}

	return &Authenticator{
		users:       users,
		dummyHash:   dummy,
		lockout:     lockout,
		sessions:    sessions,
		tokens:      tokens,
		permissions: perms,
		logger:      logging.WithComponent("authenticator"),
	}, nil
}

// WithAuditor records logins and logouts through a.
func (a *Authenticator) WithAuditor(aud Auditor) *Authenticator {
	a.auditor = aud
	return a
}

// Login checks the origin's attempt budget and the account lock, verifies
// the password, then creates a session and signs a token for it.
//
// A throttled origin or locked account yields a KindRateLimited error with
// the retry time. A wrong password yields ErrInvalidCredentials, or the
// lock error if this failure locked the account.
func (a *Authenticator) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	const op = "security.login"
	if err := validation.Check(op, req); err != nil {
		return nil, err
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))

	if !a.lockout.AllowAttempt(req.Origin) {
		metrics.LoginAttempts.WithLabelValues("throttled").Inc()
		return nil, apperr.RateLimited(op, a.lockout.AttemptsResetAt(req.Origin), ErrTooManyAttempts)
	}
	if err := a.lockout.Check(ctx, username, req.Origin); err != nil {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, err
	}

	user, known := a.users[username]
	hash := a.dummyHash
	if known {
		hash = []byte(user.PasswordHash)
	}
	// Unknown users still pay for a comparison so timing does not reveal them
	if err := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); err != nil || !known {
		return nil, a.loginFailed(ctx, username, req.Origin)
	}

	a.lockout.RecordSuccess(ctx, username, req.Origin)

	role, ok := a.permissions.RoleOf(username)
	if !ok {
		role = user.Role
	}
	sess, err := a.sessions.Create(ctx, username, role)
	if err != nil {
		return nil, err
	}
	token, expires, err := a.tokens.Issue(sess)
	if err != nil {
		a.sessions.Revoke(ctx, sess.ID)
		return nil, apperr.Wrap(apperr.KindUnknown, op, err)
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	a.logger.Info().Str("actor_id", username).Str("origin", req.Origin).Str("session_id", logging.Mask(sess.ID)).Msg("login succeeded")
	a.audit(ctx, username, audit.ActionLogin, sess.ID, map[string]interface{}{
		"origin": req.Origin,
		"role":   role,
	}, nil)

	return &LoginResult{Token: token, ExpiresAt: expires, Session: sess}, nil
}

func (a *Authenticator) loginFailed(ctx context.Context, username, origin string) error {
	status := a.lockout.RecordFailure(ctx, username, origin)
	metrics.LoginAttempts.WithLabelValues("failure").Inc()
	a.logger.Warn().Str("actor_id", username).Str("origin", origin).Int("failures", status.Failures).Msg("login failed")
	a.audit(ctx, username, audit.ActionLoginFailed, "", map[string]interface{}{
		"origin":    origin,
		"failures":  status.Failures,
		"remaining": status.Remaining,
	}, ErrInvalidCredentials)

	if status.Locked {
		if err := a.lockout.Check(ctx, username, origin); err != nil {
			return err
		}
	}
	return ErrInvalidCredentials
}

// Authenticate validates a bearer token and refreshes its session. Tokens
// whose session was revoked or idled out are rejected.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := a.tokens.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if _, ok := a.sessions.Touch(ctx, claims.SessionID); !ok {
		return nil, fmt.Errorf("%w: session expired or revoked", ErrUnauthenticated)
	}
	return claims, nil
}

// Logout revokes the session behind claims.
func (a *Authenticator) Logout(ctx context.Context, claims *Claims) bool {
	revoked := a.sessions.Revoke(ctx, claims.SessionID)
	a.audit(ctx, claims.Subject, audit.ActionLogout, claims.SessionID, map[string]interface{}{
		"revoked": revoked,
	}, nil)
	return revoked
}

func (a *Authenticator) audit(ctx context.Context, actorID, action, sessionID string, details map[string]interface{}, err error) {
	if a.auditor == nil {
		return
	}
	resourceType, resourceID := audit.ResourceAccount, actorID
	if sessionID != "" {
		resourceType, resourceID = audit.ResourceSession, sessionID
	}
	a.auditor.Record(ctx, actorID, action, resourceType, resourceID, details, err)
}
