package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/imap"
)

// ListenerControl is implemented by imap.Listener.
type ListenerControl interface {
	Status() imap.Status
	Restart()
}

// ListenerHandler exposes the inbound listener for operators. A nil listener
// means no mailbox is configured.
type ListenerHandler struct {
	listener ListenerControl
	logger   *zap.Logger
}

func NewListenerHandler(listener ListenerControl, logger *zap.Logger) *ListenerHandler {
	return &ListenerHandler{listener: listener, logger: logger.Named("api.listener")}
}

func (h *ListenerHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	if h.listener == nil {
		WriteError(w, h.logger, http.StatusNotFound, "not_configured", "No inbound mailbox is configured")
		return
	}
	WriteJSONResponse(w, h.logger, http.StatusOK, h.listener.Status())
}

// PostRestart resumes a listener that gave up reconnecting.
func (h *ListenerHandler) PostRestart(w http.ResponseWriter, _ *http.Request) {
	if h.listener == nil {
		WriteError(w, h.logger, http.StatusNotFound, "not_configured", "No inbound mailbox is configured")
		return
	}

	h.listener.Restart()
	h.logger.Info("listener restart requested")
	WriteJSONResponse(w, h.logger, http.StatusAccepted, h.listener.Status())
}
