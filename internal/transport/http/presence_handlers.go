package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/ltchat/internal/core"
)

// PresenceHandlers exposes the presence tracker over REST.
type PresenceHandlers struct {
	presence core.PresenceTracker
	log      *zerolog.Logger
}

// NewPresenceHandlers creates a new presence handlers instance.
func NewPresenceHandlers(presence core.PresenceTracker, logger *zerolog.Logger) *PresenceHandlers {
	return &PresenceHandlers{presence: presence, log: logger}
}

// OnlineResponse lists online users.
type OnlineResponse struct {
	OnlineUsers []int64 `json:"online_users"`
	Count       int     `json:"count"`
}

// UserPresenceResponse describes one user's presence.
type UserPresenceResponse struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

// CountResponse carries the number of online users.
type CountResponse struct {
	Count int `json:"count"`
}

// Online lists online users.
// GET /api/presence/online
func (h *PresenceHandlers) Online(c *gin.Context) {
	users, err := h.presence.ListOnline(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list online users")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "presence unavailable"})
		return
	}
	if users == nil {
		users = []int64{}
	}
	c.JSON(http.StatusOK, OnlineResponse{OnlineUsers: users, Count: len(users)})
}

// User reports whether one user is online.
// GET /api/presence/user/:user_id
func (h *PresenceHandlers) User(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	online, err := h.presence.IsOnline(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to read presence")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, UserPresenceResponse{UserID: userID, Online: online})
}

// Heartbeat refreshes the caller's presence.
// POST /api/presence/heartbeat
func (h *PresenceHandlers) Heartbeat(c *gin.Context) {
	id, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	if err := h.presence.Heartbeat(c.Request.Context(), id.UserID); err != nil {
		h.log.Error().Err(err).Int64("user_id", id.UserID).Msg("failed to record heartbeat")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, UserPresenceResponse{UserID: id.UserID, Online: true})
}

// Count returns the number of online users.
// GET /api/presence/count
func (h *PresenceHandlers) Count(c *gin.Context) {
	n, err := h.presence.Count(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count online users")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: n})
}
