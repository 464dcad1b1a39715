package realtime

import (
	"net/http"

	"aepblueprint/internal/app/apiresp"
	"aepblueprint/internal/auth"
	"aepblueprint/internal/platform/logger"
)

type Handler struct {
	hub *Hub
	log *logger.Logger
}

func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{hub: hub, log: log}
}

// Events streams outline invalidations to the signed-in user until the
// request ends.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	client := h.hub.NewClient(user.ID)
	h.hub.AddChannel(client, ChannelOutline)
	h.log.Info("sse stream open", "user_id", user.ID, "client_id", client.ID)
	defer func() {
		h.hub.CloseClient(client)
		h.log.Info("sse stream closed", "user_id", user.ID, "client_id", client.ID)
	}()
	h.hub.ServeHTTP(w, r, client)
}
