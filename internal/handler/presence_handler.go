package handler

import (
	"net/http"

	"meeshy/internal/auth"
	"meeshy/internal/middleware"
	"meeshy/internal/redis"
	"meeshy/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// PresenceHandler maintains the online set behind the stats snapshot.
type PresenceHandler struct {
	presence *redis.PresenceStore
}

func NewPresenceHandler(presence *redis.PresenceStore) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Heartbeat marks the registered caller online and refreshes its TTL.
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	sender, ok := middleware.SenderFromContext(c.Request.Context())
	if !ok || sender.Kind != auth.SenderRegistered {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	if err := h.presence.SetOnline(c.Request.Context(), sender.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal error", "INTERNAL_ERROR"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"online": true}))
}

// Offline removes the caller from the online set.
func (h *PresenceHandler) Offline(c *gin.Context) {
	sender, ok := middleware.SenderFromContext(c.Request.Context())
	if !ok || sender.Kind != auth.SenderRegistered {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	if err := h.presence.SetOffline(c.Request.Context(), sender.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal error", "INTERNAL_ERROR"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"online": false}))
}
