package middleware

import (
	"net/http"
	"strings"

	"rps_duel/internal/service"

	"github.com/gin-gonic/gin"
)

// ParticipantKey is the gin context key holding the authenticated participant.
const ParticipantKey = "participant"

// Ticket authenticates the join ticket from the Authorization header or,
// for websocket upgrades, the token query parameter.
func Ticket() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}

		participant, err := service.ParseJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ParticipantKey, participant)
		c.Next()
	}
}
