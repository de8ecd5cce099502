package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skillplay/backend/internal/ws"
)

// HandleWebSocket handles GET /ws. Auth runs in middleware; the token
// arrives as a query parameter since browsers cannot set headers on
// WebSocket upgrades.
func HandleWebSocket(hub *ws.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		hub.ServeWS(c.Writer, c.Request, userID)
	}
}
