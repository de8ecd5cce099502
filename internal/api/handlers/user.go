package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skillplay/backend/internal/store"
	"github.com/skillplay/backend/internal/tournament"
)

// GetMe returns the authenticated user's profile and aggregate stats.
func GetMe(st store.EntryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		user, err := st.GetUser(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// GetMyEntries returns the authenticated user's tournament entries,
// newest first.
func GetMyEntries(svc *tournament.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		entries, err := svc.UserEntries(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}
