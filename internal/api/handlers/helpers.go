package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skillplay/backend/internal/matchmaking"
	"github.com/skillplay/backend/internal/store"
	"github.com/skillplay/backend/internal/tournament"
)

// currentUserID returns the authenticated user id set by AuthMiddleware.
func currentUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// respondError maps service sentinel errors to HTTP responses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrDuplicateEntry):
		c.JSON(http.StatusConflict, gin.H{"error": "already joined"})
	case errors.Is(err, store.ErrTournamentFull):
		c.JSON(http.StatusConflict, gin.H{"error": "tournament is full"})
	case errors.Is(err, store.ErrNotAccepting):
		c.JSON(http.StatusConflict, gin.H{"error": "tournament is not accepting entries"})
	case errors.Is(err, tournament.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, tournament.ErrGameNotAvailable),
		errors.Is(err, matchmaking.ErrGameNotAvailable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "game is not available"})
	case errors.Is(err, matchmaking.ErrInvalidMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "game does not support this mode"})
	case errors.Is(err, tournament.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
	case errors.Is(err, store.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry shortly"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
