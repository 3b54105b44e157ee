package handlers

import (
	"errors"
	"net/http"

	"rps_duel/internal/domain"

	"github.com/gin-gonic/gin"
)

type JoinRequest struct {
	Username string `json:"username"`
}

// JoinGame registers a participant under a self-chosen name and returns the
// ticket that opens the websocket.
func (h *Handler) JoinGame(c *gin.Context) {
	var req JoinRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}

	ticket, err := h.Join.Join(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidIdentity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "join failed"})
		return
	}

	c.JSON(http.StatusOK, ticket)
}
