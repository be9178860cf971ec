package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/db"
	"github.com/imnothoan/verygoodmail/internal/models"
)

// ThreadStore reads and trashes single threads. db.MailStore implements it.
type ThreadStore interface {
	GetThread(ctx context.Context, userID, threadID string) (*models.Thread, error)
	TrashThread(ctx context.Context, userID, threadID string) error
}

type ThreadHandler struct {
	store  ThreadStore
	users  UserResolver
	cipher Decrypter
	logger *zap.Logger
}

func NewThreadHandler(store ThreadStore, users UserResolver, cipher Decrypter, logger *zap.Logger) *ThreadHandler {
	return &ThreadHandler{store: store, users: users, cipher: cipher, logger: logger.Named("api.thread")}
}

// GetThread returns a thread with its messages decrypted, oldest first.
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users, h.logger)
	if !ok {
		return
	}

	threadID, ok := threadIDFromPath(r)
	if !ok {
		WriteError(w, h.logger, http.StatusNotFound, "not_found", "Thread not found")
		return
	}

	thread, err := h.store.GetThread(ctx, userID, threadID)
	if errors.Is(err, db.ErrThreadNotFound) {
		WriteError(w, h.logger, http.StatusNotFound, "not_found", "Thread not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get thread", zap.String("thread_id", threadID), zap.Error(err))
		WriteError(w, h.logger, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}

	thread.Snippet = h.cipher.Decrypt(thread.Snippet)
	for i := range thread.Messages {
		decryptMessage(h.cipher, &thread.Messages[i])
	}

	WriteJSONResponse(w, h.logger, http.StatusOK, thread)
}

// TrashThread moves a thread and its messages to the trash. The janitor
// purges it after the retention window.
func (h *ThreadHandler) TrashThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users, h.logger)
	if !ok {
		return
	}

	threadID, ok := threadIDFromPath(r)
	if !ok {
		WriteError(w, h.logger, http.StatusNotFound, "not_found", "Thread not found")
		return
	}

	err := h.store.TrashThread(ctx, userID, threadID)
	if errors.Is(err, db.ErrThreadNotFound) {
		WriteError(w, h.logger, http.StatusNotFound, "not_found", "Thread not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to trash thread", zap.String("thread_id", threadID), zap.Error(err))
		WriteError(w, h.logger, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
