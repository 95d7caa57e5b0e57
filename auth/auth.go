/*
Package auth verifies bearer tokens and produces the request Principal.

PRINCIPAL:
  A Principal is {Email, Role}. The email comes from the verified token;
  the role is read once from the user directory when the token is
  verified. Handlers receive the Principal through the request context and
  never look the role up again.

TOKENS:
  HS256 JWTs with an "email" claim and an expiry, signed with
  ACCESS_TOKEN_SECRET. Issuing tokens is the identity provider's job; Issue
  exists for tests and the `token` CLI command.

UNKNOWN USERS:
  A valid token for an email with no user record yields RoleStudent. The
  directory can only raise a principal's role, never grant access on its own.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/warp/enrollment-engine/enrollment"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("forbidden")
)

// Principal is the authenticated caller.
type Principal struct {
	Email string
	Role  enrollment.Role
}

// ActsAs returns ErrForbidden unless the principal is email.
func (p Principal) ActsAs(email string) error {
	if email == "" || !strings.EqualFold(p.Email, email) {
		return fmt.Errorf("%w: %s may not act for %s", ErrForbidden, p.Email, email)
	}
	return nil
}

// HasRole returns ErrForbidden unless the principal holds role.
func (p Principal) HasRole(role enrollment.Role) error {
	if p.Role != role {
		return fmt.Errorf("%w: %s role required", ErrForbidden, role)
	}
	return nil
}

// Claims is the token payload.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Directory resolves a user's role. enrollment.Store satisfies it.
type Directory interface {
	GetStudent(ctx context.Context, email string) (*enrollment.Student, error)
}

type Authenticator struct {
	secret []byte
	users  Directory
}

func NewAuthenticator(secret string, users Directory) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users}
}

// Issue signs a token for email valid for ttl.
func (a *Authenticator) Issue(email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses tokenString and resolves the caller's role.
func (a *Authenticator) Verify(ctx context.Context, tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Email == "" {
		return Principal{}, ErrInvalidToken
	}

	p := Principal{Email: claims.Email, Role: enrollment.RoleStudent}
	user, err := a.users.GetStudent(ctx, claims.Email)
	if err != nil {
		return Principal{}, fmt.Errorf("resolve role: %w", err)
	}
	if user != nil && user.Role != "" {
		p.Role = user.Role
	}
	return p, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// =============================================================================
// CONTEXT
// =============================================================================

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
