// Package auth decodes and issues bearer session tokens and enforces the
// user_id scoping guard: a request's body/query user_id must equal the
// token's subject, never the other way around.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTokenType is the required "type" claim on every session token; any
// other value (or its absence) is treated as Unauthenticated.
const SessionTokenType = "spc_session"

// ErrInvalidUserID is returned when attempting to issue a session without a
// user identifier.
var ErrInvalidUserID = errors.New("userID is required")

// ErrInvalidToken is returned by Validate for any structurally or
// semantically invalid bearer token: bad signature, expired, wrong type,
// missing subject.
var ErrInvalidToken = errors.New("invalid session token")

// Claims is the JWT claim set carried by a session token.
type Claims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// Manager issues and validates HMAC-signed session tokens. It is stateless:
// there is no server-side session store, so validation is pure signature and
// claim verification.
type Manager struct {
	secret     []byte
	expiration time.Duration
	method     jwt.SigningMethod
	now        func() time.Time
}

// NewManager builds a Manager. secret must already have passed the boot-time
// minimum-length/non-default validation in internal/config.
func NewManager(secret string, expiration time.Duration) *Manager {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &Manager{
		secret:     []byte(secret),
		expiration: expiration,
		method:     jwt.SigningMethodHS256,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Issue mints a new session token for userID/email.
func (m *Manager) Issue(userID, email string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrInvalidUserID
	}
	now := m.now()
	expiresAt := now.Add(m.expiration)
	claims := Claims{
		Email: email,
		Type:  SessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(m.method, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate verifies signature and claims, returning the subject (user id)
// and email on success. Reject when type mismatches, sub is missing, or the
// signature is invalid.
func (m *Manager) Validate(tokenString string) (userID, email string, err error) {
	if tokenString == "" {
		return "", "", ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != m.method {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != SessionTokenType {
		return "", "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Email, nil
}
