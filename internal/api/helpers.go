package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/auth"
	"github.com/imnothoan/verygoodmail/internal/models"
)

const maxPageSize = 200

// UserResolver maps a signed-in email to its account id. db.MailStore
// implements it.
type UserResolver interface {
	ResolveUser(ctx context.Context, email string) (string, error)
}

// Decrypter opens stored message content. crypto.Cipher implements it.
type Decrypter interface {
	Decrypt(value string) string
}

// GetUserIDFromContext extracts the user's email from context, resolves the
// account and writes the HTTP error itself when that fails.
func GetUserIDFromContext(ctx context.Context, w http.ResponseWriter, users UserResolver, logger *zap.Logger) (string, bool) {
	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		logger.Warn("no user email in context")
		WriteError(w, logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return "", false
	}

	userID, err := users.ResolveUser(ctx, email)
	if err != nil {
		logger.Error("failed to resolve user", zap.String("email", email), zap.Error(err))
		WriteError(w, logger, http.StatusInternalServerError, "internal", "Internal server error")
		return "", false
	}

	return userID, true
}

// ParsePaginationParams parses page and limit from query parameters.
// Missing or invalid values fall back to page 1 and defaultLimit; limit is
// capped at maxPageSize.
func ParsePaginationParams(r *http.Request, defaultLimit int) (page, limit int) {
	page = 1
	limit = defaultLimit

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if parsed, err := strconv.Atoi(pageStr); err == nil && parsed > 0 {
			page = parsed
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	return page, min(limit, maxPageSize)
}

// WriteJSONResponse encodes v before writing anything, so an encoding failure
// becomes a clean 500 instead of a truncated body.
func WriteJSONResponse(w http.ResponseWriter, logger *zap.Logger, status int, v any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.Debug("failed to write response", zap.Error(err))
		return false
	}
	return true
}

func WriteError(w http.ResponseWriter, logger *zap.Logger, status int, code, message string) {
	WriteJSONResponse(w, logger, status, models.ErrorResponse{Error: message, Code: code})
}

// threadIDFromPath reads the {id} path value. Anything that is not a UUID
// cannot name a thread.
func threadIDFromPath(r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

// decryptMessage opens the encrypted fields in place.
func decryptMessage(cipher Decrypter, msg *models.Message) {
	msg.BodyText = cipher.Decrypt(msg.BodyText)
	msg.BodyHTML = cipher.Decrypt(msg.BodyHTML)
	msg.Snippet = cipher.Decrypt(msg.Snippet)
}
