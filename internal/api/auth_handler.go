package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/auth"
	"github.com/imnothoan/verygoodmail/internal/models"
)

type AuthHandler struct {
	users  UserResolver
	logger *zap.Logger
}

func NewAuthHandler(users UserResolver, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, logger: logger.Named("api.auth")}
}

func (h *AuthHandler) GetAuthStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users, h.logger)
	if !ok {
		return
	}
	email, _ := auth.GetUserEmailFromContext(ctx)

	WriteJSONResponse(w, h.logger, http.StatusOK, models.AuthStatusResponse{
		IsAuthenticated: true,
		Email:           email,
		UserID:          userID,
	})
}
