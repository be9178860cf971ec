package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/models"
)

const defaultThreadsPerPage = 50

// ThreadLister pages through a user's threads. db.MailStore implements it.
type ThreadLister interface {
	ListThreads(ctx context.Context, userID string, category models.Category, limit, offset int) ([]*models.Thread, error)
}

// ThreadsHandler serves the thread list of an inbox tab.
type ThreadsHandler struct {
	store  ThreadLister
	users  UserResolver
	cipher Decrypter
	logger *zap.Logger
}

func NewThreadsHandler(store ThreadLister, users UserResolver, cipher Decrypter, logger *zap.Logger) *ThreadsHandler {
	return &ThreadsHandler{store: store, users: users, cipher: cipher, logger: logger.Named("api.threads")}
}

// GetThreads returns a page of non-trashed threads, newest first. The optional
// category parameter keeps threads holding at least one message of that
// category.
func (h *ThreadsHandler) GetThreads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users, h.logger)
	if !ok {
		return
	}

	category := models.Category(r.URL.Query().Get("category"))
	if category != "" && !category.Valid() {
		WriteError(w, h.logger, http.StatusBadRequest, "invalid_category", "Unknown category")
		return
	}

	page, limit := ParsePaginationParams(r, defaultThreadsPerPage)
	offset := (page - 1) * limit

	// One extra row tells whether another page exists.
	threads, err := h.store.ListThreads(ctx, userID, category, limit+1, offset)
	if err != nil {
		h.logger.Error("failed to list threads", zap.String("user_id", userID), zap.Error(err))
		WriteError(w, h.logger, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}

	hasMore := len(threads) > limit
	if hasMore {
		threads = threads[:limit]
	}
	for _, thread := range threads {
		thread.Snippet = h.cipher.Decrypt(thread.Snippet)
	}
	if threads == nil {
		threads = []*models.Thread{}
	}

	WriteJSONResponse(w, h.logger, http.StatusOK, &models.ThreadsResponse{
		Threads: threads,
		Pagination: models.PaginationInfo{
			Page:    page,
			PerPage: limit,
			HasMore: hasMore,
		},
	})
}
