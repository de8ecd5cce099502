package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/skillplay/backend/internal/matchmaking"
	"github.com/skillplay/backend/internal/store"
)

// JoinQueue handles POST /matchmaking/join
func JoinQueue(q *matchmaking.Queue, st store.EntryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req struct {
			GameID   string          `json:"game_id"`
			Mode     string          `json:"mode"`
			EntryFee decimal.Decimal `json:"entry_fee"`
			Currency string          `json:"currency"`
		}
		if err := c.BindJSON(&req); err != nil || req.GameID == "" || req.Mode == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "game_id and mode required"})
			return
		}
		if req.EntryFee.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "entry_fee must not be negative"})
			return
		}
		if req.Currency == "" {
			req.Currency = "USDT"
		}

		user, err := st.GetUser(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}

		res, err := q.Join(c.Request.Context(), req.GameID, req.Mode, user.ID, user.Username, req.EntryFee, req.Currency)
		if err != nil {
			respondError(c, err)
			return
		}

		if res.Match != nil {
			c.JSON(http.StatusOK, gin.H{
				"queued":    false,
				"match_id":  res.Match.MatchID,
				"starts_at": res.Match.StartsAt,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"queued": true})
	}
}

// LeaveQueue handles POST /matchmaking/leave
func LeaveQueue(q *matchmaking.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if err := q.Leave(c.Request.Context(), userID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"left": true})
	}
}
