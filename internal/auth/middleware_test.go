package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/testutil"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	return NewAuthenticator(testutil.GetTestCipher(t), zap.NewNop())
}

func TestRequireAuth(t *testing.T) {
	a := newTestAuthenticator(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := GetUserEmailFromContext(r.Context())
		if !ok {
			t.Error("Expected user email in context")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(email))
	})
	authHandler := a.RequireAuth(handler)

	serve := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		authHandler.ServeHTTP(rr, req)
		return rr
	}

	t.Run("allows request with issued token", func(t *testing.T) {
		rr := serve("Bearer " + a.IssueToken("Alice@VeryGoodMail.tech"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "alice@verygoodmail.tech", rr.Body.String())
	})

	t.Run("accepts lowercase scheme and extra spaces", func(t *testing.T) {
		rr := serve("bearer    " + a.IssueToken("bob@verygoodmail.tech"))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"no scheme", "InvalidFormat"},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer "},
		{"unsigned token", "Bearer YWxpY2U"},
		{"forged signature", "Bearer YWxpY2VAdmVyeWdvb2RtYWlsLnRlY2g.deadbeef"},
		{"test token outside test mode", "Bearer email:alice@verygoodmail.tech"},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, serve(tt.header).Code)
		})
	}
}

func TestValidateTokenTestMode(t *testing.T) {
	t.Setenv("VGM_TEST_MODE", "true")
	a := newTestAuthenticator(t)

	email, err := a.ValidateToken("email:Carol@VeryGoodMail.tech")
	assert.NoError(t, err)
	assert.Equal(t, "carol@verygoodmail.tech", email)

	_, err = a.ValidateToken("email:")
	assert.ErrorIs(t, err, ErrInvalidToken)

	email, err = a.ValidateToken(a.IssueToken("dave@verygoodmail.tech"))
	assert.NoError(t, err)
	assert.Equal(t, "dave@verygoodmail.tech", email, "signed tokens keep working in test mode")
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = BearerToken("Bearer")
	assert.False(t, ok)
}

func TestGetUserEmailFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := GetUserEmailFromContext(req.Context())
	assert.False(t, ok)

	email, ok := GetUserEmailFromContext(WithUserEmail(req.Context(), "erin@verygoodmail.tech"))
	assert.True(t, ok)
	assert.Equal(t, "erin@verygoodmail.tech", email)
}
