package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/delivery"
	"github.com/imnothoan/verygoodmail/internal/models"
	"github.com/imnothoan/verygoodmail/internal/smtp"
	"github.com/imnothoan/verygoodmail/internal/testutil"
)

type fakeComposer struct {
	envelope delivery.Envelope
	draft    bool
	result   *delivery.ComposeResult
	err      error
}

func (f *fakeComposer) Compose(_ context.Context, _ string, env delivery.Envelope, draft bool) (*delivery.ComposeResult, error) {
	f.envelope, f.draft = env, draft
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeProfiles struct{}

func (fakeProfiles) GetUser(_ context.Context, userID string) (*models.User, error) {
	return &models.User{ID: userID, DisplayName: "Alice Nguyen"}, nil
}

func composeRequest(body string) *http.Request {
	return createRequestWithUser(http.MethodPost, "/api/v1/messages", "alice@verygoodmail.tech", body)
}

func TestPostMessage(t *testing.T) {
	cipher := testutil.GetTestCipher(t)
	stored := func() *models.Message {
		return &models.Message{ID: "m1", Subject: "Hi", BodyText: seal(t, "Hello Bob"), Snippet: seal(t, "Hello Bob")}
	}

	VerifyAuthCheck(t, NewComposeHandler(&fakeComposer{}, &fakeUsers{}, fakeProfiles{}, cipher, zap.NewNop()).PostMessage, http.MethodPost, "/api/v1/messages")

	t.Run("sends to internal recipients", func(t *testing.T) {
		composer := &fakeComposer{result: &delivery.ComposeResult{
			Message: stored(),
			Report:  delivery.Report{Delivered: map[string]string{"bob@verygoodmail.tech": "m2"}},
		}}
		handler := NewComposeHandler(composer, &fakeUsers{}, fakeProfiles{}, cipher, zap.NewNop())

		attachment := base64.StdEncoding.EncodeToString([]byte("a,b\n1,2\n"))
		rr := httptest.NewRecorder()
		handler.PostMessage(rr, composeRequest(`{
			"to": ["bob@verygoodmail.tech"],
			"subject": "Hi",
			"text": "Hello Bob",
			"in_reply_to": " <parent@verygoodmail.tech> ",
			"attachments": [{"filename": "data.csv", "mime_type": "text/csv", "content": "`+attachment+`"}]
		}`))

		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		var body models.ComposeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "Hello Bob", body.Message.BodyText)
		assert.Equal(t, "m2", body.Delivered["bob@verygoodmail.tech"])
		assert.Nil(t, body.Dispatch)

		env := composer.envelope
		assert.Equal(t, "alice@verygoodmail.tech", env.FromAddress)
		assert.Equal(t, "Alice Nguyen", env.FromName)
		assert.Equal(t, "<parent@verygoodmail.tech>", env.InReplyTo)
		require.Len(t, env.Attachments, 1)
		assert.Equal(t, "a,b\n1,2\n", string(env.Attachments[0].Content))
		assert.Equal(t, int64(8), env.Attachments[0].SizeBytes)
		assert.False(t, composer.draft)
	})

	t.Run("reports dispatch failure with its kind", func(t *testing.T) {
		composer := &fakeComposer{result: &delivery.ComposeResult{
			Message: stored(),
			Dispatch: &smtp.Result{Err: &smtp.SendError{
				Kind:    smtp.KindRecipientRejected,
				Message: "One or more recipient addresses were rejected.",
			}},
		}}
		handler := NewComposeHandler(composer, &fakeUsers{}, fakeProfiles{}, cipher, zap.NewNop())

		rr := httptest.NewRecorder()
		handler.PostMessage(rr, composeRequest(`{"to": ["nobody@example.org"], "subject": "Hi", "text": "x"}`))

		require.Equal(t, http.StatusBadGateway, rr.Code)
		var body models.ComposeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.NotNil(t, body.Dispatch)
		assert.False(t, body.Dispatch.Success)
		assert.Equal(t, "recipient_rejected", body.Dispatch.ErrorKind)
		assert.NotNil(t, body.Message, "the sender copy is kept")
	})

	t.Run("local-only dispatch is success", func(t *testing.T) {
		composer := &fakeComposer{result: &delivery.ComposeResult{
			Message:  stored(),
			Dispatch: &smtp.Result{Success: true, Local: true},
		}}
		handler := NewComposeHandler(composer, &fakeUsers{}, fakeProfiles{}, cipher, zap.NewNop())

		rr := httptest.NewRecorder()
		handler.PostMessage(rr, composeRequest(`{"to": ["x@example.org"], "text": "x"}`))

		require.Equal(t, http.StatusCreated, rr.Code)
		assert.Contains(t, rr.Body.String(), `"local":true`)
	})

	t.Run("saves drafts", func(t *testing.T) {
		composer := &fakeComposer{result: &delivery.ComposeResult{Message: stored()}}
		handler := NewComposeHandler(composer, &fakeUsers{}, fakeProfiles{}, cipher, zap.NewNop())

		rr := httptest.NewRecorder()
		handler.PostMessage(rr, composeRequest(`{"subject": "Later", "draft": true}`))

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.True(t, composer.draft)
	})

	t.Run("missing recipients is 400", func(t *testing.T) {
		handler := NewComposeHandler(&fakeComposer{err: delivery.ErrNoRecipients}, &fakeUsers{}, fakeProfiles{}, cipher, zap.NewNop())

		rr := httptest.NewRecorder()
		handler.PostMessage(rr, composeRequest(`{"subject": "Nobody"}`))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "no_recipients")
	})

	t.Run("invalid attachment is 400", func(t *testing.T) {
		composer := &fakeComposer{}
		handler := NewComposeHandler(composer, &fakeUsers{}, fakeProfiles{}, cipher, zap.NewNop())

		rr := httptest.NewRecorder()
		handler.PostMessage(rr, composeRequest(`{"to": ["bob@verygoodmail.tech"], "attachments": [{"filename": "x", "content": "%%%"}]}`))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "invalid_attachment")
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		handler := NewComposeHandler(&fakeComposer{}, &fakeUsers{}, fakeProfiles{}, cipher, zap.NewNop())

		rr := httptest.NewRecorder()
		handler.PostMessage(rr, composeRequest(`{"to": `))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("oversized body is 413", func(t *testing.T) {
		handler := NewComposeHandler(&fakeComposer{}, &fakeUsers{}, fakeProfiles{}, cipher, zap.NewNop())

		huge := `{"text": "` + strings.Repeat("a", maxComposeBytes) + `"}`
		rr := httptest.NewRecorder()
		handler.PostMessage(rr, composeRequest(huge))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})

	t.Run("pipeline failure is 500", func(t *testing.T) {
		handler := NewComposeHandler(&fakeComposer{err: errBoom}, &fakeUsers{}, fakeProfiles{}, cipher, zap.NewNop())

		rr := httptest.NewRecorder()
		handler.PostMessage(rr, composeRequest(`{"to": ["bob@verygoodmail.tech"]}`))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "boom")
	})
}
