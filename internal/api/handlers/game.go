package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skillplay/backend/internal/store"
)

// ListGames handles GET /games (approved games only)
func ListGames(st store.EntryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		games, err := st.ListGames(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"games": games})
	}
}

// GetGame handles GET /games/:id
func GetGame(st store.EntryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		game, err := st.GetGame(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, game)
	}
}
