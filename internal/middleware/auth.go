package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	// APIKeyContextKey stores the validated shared secret in request context.
	APIKeyContextKey contextKey = "api_key"
)

// AuthMiddleware validates the shared webhook secret on incoming ingress
// requests. Every ingress adapter (§5) requires the caller to present the
// configured secret — there is no per-caller identity, only a single
// shared secret rotated out-of-band.
type AuthMiddleware struct {
	logger     zerolog.Logger
	headerKey  string
	secret     string
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(logger zerolog.Logger, headerKey, secret string) *AuthMiddleware {
	if headerKey == "" {
		headerKey = "Authorization"
	}
	return &AuthMiddleware{
		logger:    logger,
		headerKey: headerKey,
		secret:    secret,
	}
}

// Handler returns the middleware handler function.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get(am.headerKey)
		if authHeader == "" {
			http.Error(w, `{"error":"missing authentication","message":"`+am.headerKey+` header required"}`, http.StatusUnauthorized)
			return
		}

		presented := authHeader
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			presented = authHeader[7:]
		}

		if presented == "" || !am.validSecret(presented) {
			http.Error(w, `{"error":"invalid authentication","message":"shared secret did not match"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), APIKeyContextKey, presented)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validSecret performs a constant-time comparison against the configured
// shared secret so timing differences can't leak it byte by byte.
func (am *AuthMiddleware) validSecret(presented string) bool {
	if am.secret == "" {
		return false
	}
	want := sha256.Sum256([]byte(am.secret))
	got := sha256.Sum256([]byte(presented))
	return hmac.Equal(want[:], got[:])
}

// GetAPIKey extracts the validated secret from the request context.
func GetAPIKey(ctx context.Context) string {
	if v, ok := ctx.Value(APIKeyContextKey).(string); ok {
		return v
	}
	return ""
}
