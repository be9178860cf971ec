package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

// UserEmailKey is the context key used to store the authenticated user's email.
const UserEmailKey contextKey = "user_email"

// testTokenPrefix marks tokens that carry the email in clear. They are only
// accepted when VGM_TEST_MODE=true.
const testTokenPrefix = "email:"

var ErrInvalidToken = errors.New("invalid token")

// Hasher signs token payloads. crypto.Cipher implements it.
type Hasher interface {
	Hash(value string) string
}

// Authenticator issues and checks bearer tokens of the form
// base64url(email) "." hmac(email).
type Authenticator struct {
	hasher   Hasher
	testMode bool
	logger   *zap.Logger
}

func NewAuthenticator(hasher Hasher, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		hasher:   hasher,
		testMode: os.Getenv("VGM_TEST_MODE") == "true",
		logger:   logger.Named("auth"),
	}
}

// IssueToken returns a token that authenticates email.
func (a *Authenticator) IssueToken(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	payload := base64.RawURLEncoding.EncodeToString([]byte(email))
	return payload + "." + a.hasher.Hash(email)
}

// ValidateToken returns the email a token was issued for.
func (a *Authenticator) ValidateToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	if a.testMode && strings.HasPrefix(token, testTokenPrefix) {
		if email := strings.TrimPrefix(token, testTokenPrefix); email != "" {
			return strings.ToLower(email), nil
		}
		return "", ErrInvalidToken
	}

	payload, signature, ok := strings.Cut(token, ".")
	if !ok {
		return "", ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(raw) == 0 {
		return "", ErrInvalidToken
	}

	email := string(raw)
	expected := a.hasher.Hash(email)
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return "", ErrInvalidToken
	}
	return email, nil
}

// RequireAuth checks for a valid bearer token in the Authorization header and
// stores the user's email in the request context. Returns 401 otherwise.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r.Header.Get("Authorization"))
		if !ok {
			a.logger.Debug("missing or malformed Authorization header", zap.String("path", r.URL.Path))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		email, err := a.ValidateToken(token)
		if err != nil {
			a.logger.Info("token validation failed", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserEmailKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from an RFC 6750 Authorization header value.
// The scheme is case-insensitive.
func BearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(strings.Join(fields[1:], " "))
	return token, token != ""
}

// GetUserEmailFromContext returns the user email from the context.
func GetUserEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok && email != ""
}

// WithUserEmail returns ctx carrying email, as RequireAuth would set it.
func WithUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, UserEmailKey, email)
}
