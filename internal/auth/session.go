// Package auth guards the dashboard with a password and a signed session cookie.
package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"evdetect/internal/config"
)

// CookieName is the session cookie set on login.
const CookieName = "session"

const issuer = "evdetect"

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrNoCredentials  = errors.New("no dashboard password configured")
)

// Sessions checks the dashboard password and issues HS256 session tokens.
type Sessions struct {
	secret       []byte
	ttl          time.Duration
	password     string
	passwordHash string
	now          func() time.Time
}

func NewSessions(cfg *config.Config) *Sessions {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	return &Sessions{
		secret:       []byte(cfg.SessionSecret),
		ttl:          ttl,
		password:     cfg.Password,
		passwordHash: cfg.PasswordHash,
		now:          time.Now,
	}
}

// Enabled reports whether any password is configured. Without one every
// login attempt is rejected.
func (s *Sessions) Enabled() bool {
	return s.password != "" || s.passwordHash != ""
}

// TTL is the lifetime of issued sessions.
func (s *Sessions) TTL() time.Duration {
	return s.ttl
}

// CheckPassword verifies a login attempt. A bcrypt hash wins over the plain password.
func (s *Sessions) CheckPassword(password string) error {
	switch {
	case s.passwordHash != "":
		return bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password))
	case s.password != "":
		if subtle.ConstantTimeCompare([]byte(s.password), []byte(password)) != 1 {
			return bcrypt.ErrMismatchedHashAndPassword
		}
		return nil
	default:
		return ErrNoCredentials
	}
}

// Issue signs a new session token.
func (s *Sessions) Issue() (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   "operator",
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate checks signature, issuer and expiry of a session token.
func (s *Sessions) Validate(token string) error {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidSession
	}
	return nil
}
