package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"StableLedger/internal/ledger"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("stable: missing bearer token")
	ErrInvalidToken = errors.New("stable: invalid bearer token")
)

// Roles carried in the token.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims are the JWT claims the server accepts. The subject is the
// caller's base58 principal.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Caller is an authenticated principal.
type Caller struct {
	Principal ledger.Principal
	Role      string
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

type callerKey struct{}

// WithCaller returns ctx carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Authenticator issues and verifies HS256 tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for principal valid for ttl.
func (a *Authenticator) Issue(principal ledger.Principal, role string, ttl time.Duration) (string, error) {
	if role != RoleUser && role != RoleAdmin {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := a.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify parses a raw token and returns the caller it names.
func (a *Authenticator) Verify(raw string) (Caller, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	principal, err := ledger.ParsePrincipal(claims.Subject)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	if claims.Role != RoleUser && claims.Role != RoleAdmin {
		return Caller{}, fmt.Errorf("%w: role %q", ErrInvalidToken, claims.Role)
	}
	return Caller{Principal: principal, Role: claims.Role}, nil
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}
