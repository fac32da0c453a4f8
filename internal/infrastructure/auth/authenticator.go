// Package auth verifies the credentials remote gateways present to the
// listener: static bearer tokens, signed JWTs and bcrypt-hashed basic users.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/orris-inc/sidecar/internal/shared/config"
)

var (
	ErrMissingCredentials = errors.New("missing authorization header")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Authenticator checks an Authorization header against the configured
// credentials.
type Authenticator struct {
	disabled bool
	tokens   [][]byte
	jwt      *JWTService
	users    map[string][]byte
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{
		disabled: cfg.Disabled,
		users:    make(map[string][]byte, len(cfg.BasicUsers)),
	}
	for _, t := range cfg.Tokens {
		if t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	if cfg.JWTSecret != "" {
		a.jwt = NewJWTService(cfg.JWTSecret, cfg.JWTIssuer)
	}
	for _, u := range cfg.BasicUsers {
		a.users[u.Username] = []byte(u.PasswordHash)
	}
	return a
}

// Disabled reports whether every request is let through.
func (a *Authenticator) Disabled() bool { return a.disabled }

// Configured reports whether at least one credential kind is set up.
func (a *Authenticator) Configured() bool {
	return len(a.tokens) > 0 || a.jwt != nil || len(a.users) > 0
}

// Authenticate returns the caller identity encoded in header: the JWT
// subject, the basic user name, or "token" for a static token.
func (a *Authenticator) Authenticate(header string) (string, error) {
	if a.disabled {
		return "", nil
	}
	if header == "" {
		return "", ErrMissingCredentials
	}

	scheme, value, ok := strings.Cut(header, " ")
	if !ok {
		return "", ErrInvalidCredentials
	}
	value = strings.TrimSpace(value)

	switch strings.ToLower(scheme) {
	case "bearer", "token":
		return a.bearer(value)
	case "basic":
		return a.basic(value)
	default:
		return "", ErrInvalidCredentials
	}
}

func (a *Authenticator) bearer(token string) (string, error) {
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(t, []byte(token)) == 1 {
			return "token", nil
		}
	}
	if a.jwt != nil {
		claims, err := a.jwt.Verify(token)
		if err == nil {
			return claims.Subject, nil
		}
	}
	return "", ErrInvalidCredentials
}

func (a *Authenticator) basic(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", ErrInvalidCredentials
	}
	hash, found := a.users[username]
	if !found {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return username, nil
}

// HashPassword produces the bcrypt hash stored in auth.basic_users.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to generate password hash: %w", err)
	}
	return string(hash), nil
}
