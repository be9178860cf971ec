package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/auth"
	ws "github.com/imnothoan/verygoodmail/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for real-time updates.
type WebSocketHandler struct {
	auth   *auth.Authenticator
	users  UserResolver
	hub    *ws.Hub
	logger *zap.Logger
}

func NewWebSocketHandler(authenticator *auth.Authenticator, users UserResolver, hub *ws.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{auth: authenticator, users: users, hub: hub, logger: logger.Named("api.ws")}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The server is expected to run behind a reverse proxy that
		// enforces origins.
		return true
	},
}

// Handle upgrades the connection and registers it with the hub. Browsers
// cannot set headers on websocket requests, so the token may also come in
// the token query parameter.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = auth.BearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	email, err := h.auth.ValidateToken(token)
	if err != nil {
		h.logger.Info("token validation failed", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.users.ResolveUser(ctx, email)
	if err != nil {
		h.logger.Error("failed to resolve user", zap.String("email", email), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("failed to upgrade connection", zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := h.hub.Register(userID, conn)
	if client == nil {
		// The hub already closed the connection.
		return
	}
	h.logger.Debug("connection established", zap.String("user_id", userID))

	go h.readLoop(userID, conn, client)
}

// readLoop discards client messages until the connection closes, then
// unregisters it.
func (h *WebSocketHandler) readLoop(userID string, conn *websocket.Conn, client *ws.Client) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(userID, client)
}
