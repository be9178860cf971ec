package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/imnothoan/verygoodmail/internal/auth"
)

// fakeUsers maps emails to ids; unknown emails get "user-<email>".
type fakeUsers struct {
	err error
}

func (f *fakeUsers) ResolveUser(_ context.Context, email string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "user-" + email, nil
}

var errBoom = errors.New("boom")

// createRequestWithUser creates an HTTP request with user email in context.
func createRequestWithUser(method, url, email, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	return req.WithContext(auth.WithUserEmail(req.Context(), email))
}

// VerifyAuthCheck verifies that the handler returns 401 Unauthorized when no user is in context.
func VerifyAuthCheck(t *testing.T, handlerFunc http.HandlerFunc, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handlerFunc(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no user email in context")
}
