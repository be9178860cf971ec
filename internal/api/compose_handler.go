package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/auth"
	"github.com/imnothoan/verygoodmail/internal/delivery"
	"github.com/imnothoan/verygoodmail/internal/models"
)

// maxComposeBytes bounds a compose request, base64 attachments included.
const maxComposeBytes = 32 << 20

// Composer runs the outbound pipeline. delivery.Orchestrator implements it.
type Composer interface {
	Compose(ctx context.Context, senderID string, env delivery.Envelope, draft bool) (*delivery.ComposeResult, error)
}

// Profiles looks up the sender's display name.
type Profiles interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

type ComposeHandler struct {
	composer Composer
	users    UserResolver
	profiles Profiles
	cipher   Decrypter
	logger   *zap.Logger
}

func NewComposeHandler(composer Composer, users UserResolver, profiles Profiles, cipher Decrypter, logger *zap.Logger) *ComposeHandler {
	return &ComposeHandler{
		composer: composer,
		users:    users,
		profiles: profiles,
		cipher:   cipher,
		logger:   logger.Named("api.compose"),
	}
}

// PostMessage sends a message or saves a draft.
//
// The sender's copy is always stored before anything leaves the system. When
// the external submission fails the response is 502 with the stored message
// and the failure kind from the dispatcher; transport details are never
// returned.
func (h *ComposeHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users, h.logger)
	if !ok {
		return
	}
	email, _ := auth.GetUserEmailFromContext(ctx)

	var req models.ComposeRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxComposeBytes))
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, h.logger, http.StatusRequestEntityTooLarge, "too_large", "Message is too large")
			return
		}
		WriteError(w, h.logger, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	env, err := h.envelope(ctx, userID, email, &req)
	if err != nil {
		WriteError(w, h.logger, http.StatusBadRequest, "invalid_attachment", err.Error())
		return
	}

	result, err := h.composer.Compose(ctx, userID, env, req.Draft)
	if errors.Is(err, delivery.ErrNoRecipients) {
		WriteError(w, h.logger, http.StatusBadRequest, "no_recipients", "At least one recipient is required")
		return
	}
	if err != nil {
		h.logger.Error("failed to compose message", zap.String("user_id", userID), zap.Error(err))
		WriteError(w, h.logger, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}

	decryptMessage(h.cipher, result.Message)
	response := &models.ComposeResponse{
		Message:    result.Message,
		Delivered:  result.Report.Delivered,
		Unresolved: result.Report.Unresolved,
		Failed:     result.Report.Failed,
	}

	status := http.StatusCreated
	if result.Dispatch != nil {
		dispatch := &models.DispatchStatus{
			Success:   result.Dispatch.Success,
			Local:     result.Dispatch.Local,
			MessageID: result.Dispatch.MessageID,
		}
		if result.Dispatch.Err != nil {
			dispatch.ErrorKind = string(result.Dispatch.Err.Kind)
			dispatch.Error = result.Dispatch.Err.Message
			status = http.StatusBadGateway
		}
		response.Dispatch = dispatch
	}

	WriteJSONResponse(w, h.logger, status, response)
}

func (h *ComposeHandler) envelope(ctx context.Context, userID, email string, req *models.ComposeRequest) (delivery.Envelope, error) {
	env := delivery.Envelope{
		InReplyTo:   strings.TrimSpace(req.InReplyTo),
		References:  req.References,
		FromAddress: email,
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
	}

	if user, err := h.profiles.GetUser(ctx, userID); err != nil {
		h.logger.Warn("failed to load sender profile", zap.String("user_id", userID), zap.Error(err))
	} else {
		env.FromName = user.DisplayName
	}

	for i, att := range req.Attachments {
		content, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			return env, fmt.Errorf("attachment %d is not valid base64", i+1)
		}
		mimeType := att.MimeType
		if mimeType == "" {
			mimeType = http.DetectContentType(content)
		}
		env.Attachments = append(env.Attachments, models.Attachment{
			Filename:  att.Filename,
			MimeType:  mimeType,
			SizeBytes: int64(len(content)),
			Content:   content,
		})
	}

	return env, nil
}
