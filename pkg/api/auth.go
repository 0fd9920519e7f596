package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kara-bolt/karadao/pkg/contracts"
)

// Claims are the JWT claims the governance API expects. The subject is the
// caller's component address; all domain authorization happens downstream
// against that address, so the token only establishes identity.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Authenticator validates HS256 bearer tokens and binds the caller address
// into the request context.
type Authenticator struct {
	secret []byte
	clock  contracts.Clock
}

// NewAuthenticator creates an authenticator. A nil clock falls back to the
// system clock.
func NewAuthenticator(secret []byte, clock contracts.Clock) *Authenticator {
	if clock == nil {
		clock = contracts.SystemClock{}
	}
	return &Authenticator{secret: secret, clock: clock}
}

// Issue mints a signed token for the given caller. Used by operator tooling
// and tests; production deployments typically mint elsewhere.
func (a *Authenticator) Issue(caller contracts.Address, roles []string, ttl time.Duration) (string, error) {
	now := a.clock.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(caller),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses and validates a token string.
func (a *Authenticator) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

type contextKey string

const callerKey contextKey = "caller"

// CallerFrom returns the authenticated caller address bound by the auth
// middleware, or contracts.Zero when the request was not authenticated.
func CallerFrom(ctx context.Context) contracts.Address {
	if v, ok := ctx.Value(callerKey).(contracts.Address); ok {
		return v
	}
	return contracts.Zero
}

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/api/v1/status",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Middleware returns JWT auth middleware. If the authenticator has no
// secret, all non-public requests are rejected (fail closed).
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			WriteUnauthorized(w, "Missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
			return
		}

		if len(a.secret) == 0 {
			WriteUnauthorized(w, "Authentication not configured")
			return
		}

		claims, err := a.Validate(parts[1])
		if err != nil {
			WriteUnauthorized(w, "Invalid or expired token")
			return
		}
		if claims.Subject == "" {
			WriteUnauthorized(w, "Token subject is required")
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, contracts.Address(claims.Subject))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
