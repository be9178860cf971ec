package api

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/models"
	"github.com/imnothoan/verygoodmail/internal/search"
)

const (
	defaultSearchLimit  = 50
	defaultSuggestLimit = 8
)

// Searcher is implemented by search.Service.
type Searcher interface {
	Search(ctx context.Context, userID, query string, limit int, filters search.Filters) ([]*models.Message, error)
	Suggest(ctx context.Context, userID, prefix string, limit int) ([]string, error)
}

// SearchHandler handles search-related API requests.
type SearchHandler struct {
	searcher Searcher
	users    UserResolver
	logger   *zap.Logger
}

func NewSearchHandler(searcher Searcher, users UserResolver, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, users: users, logger: logger.Named("api.search")}
}

// Search ranks the user's mail against q. An empty query matches nothing.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users, h.logger)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	category := models.Category(r.URL.Query().Get("category"))
	if category != "" && !category.Valid() {
		WriteError(w, h.logger, http.StatusBadRequest, "invalid_category", "Unknown category")
		return
	}
	_, limit := ParsePaginationParams(r, defaultSearchLimit)

	response := &models.SearchResponse{Query: query, Messages: []*models.Message{}}
	if query == "" {
		WriteJSONResponse(w, h.logger, http.StatusOK, response)
		return
	}

	messages, err := h.searcher.Search(ctx, userID, query, limit, search.Filters{Category: category})
	if err != nil {
		h.logger.Error("failed to search", zap.String("user_id", userID), zap.Error(err))
		WriteError(w, h.logger, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}
	if messages != nil {
		response.Messages = messages
	}

	WriteJSONResponse(w, h.logger, http.StatusOK, response)
}

// Suggest completes the last word the user is typing.
func (h *SearchHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users, h.logger)
	if !ok {
		return
	}

	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
	_, limit := ParsePaginationParams(r, defaultSuggestLimit)

	response := &models.SuggestResponse{Prefix: prefix, Suggestions: []string{}}
	if prefix == "" {
		WriteJSONResponse(w, h.logger, http.StatusOK, response)
		return
	}

	suggestions, err := h.searcher.Suggest(ctx, userID, prefix, limit)
	if err != nil {
		h.logger.Error("failed to suggest", zap.String("user_id", userID), zap.Error(err))
		WriteError(w, h.logger, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}
	if suggestions != nil {
		response.Suggestions = suggestions
	}

	WriteJSONResponse(w, h.logger, http.StatusOK, response)
}
