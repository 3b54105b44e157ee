package handlers

import (
	"net/http"

	"rps_duel/internal/logger"
	"rps_duel/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WS upgrades a ticket holder to the websocket that carries presence,
// invites and duels. It runs after the ticket middleware.
func (h *Handler) WS(hub *ws.Hub, allowedOrigin string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}

	return func(c *gin.Context) {
		participant, ok := getParticipant(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("ws upgrade error", "participant", participant, "error", err)
			return
		}

		client := ws.NewClient(participant, conn, hub)
		go client.Run()
	}
}
