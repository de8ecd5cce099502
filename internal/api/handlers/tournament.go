package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/skillplay/backend/internal/config"
	"github.com/skillplay/backend/internal/store"
	"github.com/skillplay/backend/internal/tournament"
)

// CreateTournament handles POST /tournaments
func CreateTournament(svc *tournament.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in tournament.CreateInput
		if err := c.BindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		t, err := svc.Create(c.Request.Context(), in)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, t)
	}
}

// ListTournaments handles GET /tournaments with optional status, mode,
// game_id, limit and offset query filters.
func ListTournaments(svc *tournament.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := store.TournamentFilter{
			Status: c.Query("status"),
			Mode:   c.Query("mode"),
			GameID: c.Query("game_id"),
		}
		if v, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && v > 0 && v <= 200 {
			f.Limit = v
		}
		if v, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && v > 0 {
			f.Offset = v
		}

		list, err := svc.List(c.Request.Context(), f)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tournaments": list})
	}
}

// GetTournament handles GET /tournaments/:id
func GetTournament(svc *tournament.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// JoinTournament handles POST /tournaments/:id/join
func JoinTournament(svc *tournament.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req struct {
			TxHash string `json:"tx_hash"`
		}
		// Body is optional: joining without payment leaves the entry PENDING
		c.ShouldBindJSON(&req)

		entry, err := svc.Join(c.Request.Context(), c.Param("id"), userID, req.TxHash)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	}
}

// LeaveTournament handles POST /tournaments/:id/leave
func LeaveTournament(svc *tournament.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if err := svc.Leave(c.Request.Context(), c.Param("id"), userID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"left": true})
	}
}

// SubmitScore handles POST /tournaments/:id/scores
func SubmitScore(svc *tournament.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req struct {
			Score     int64           `json:"score"`
			Metadata  json.RawMessage `json:"metadata"`
			Signature string          `json:"signature"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		err := svc.SubmitScore(c.Request.Context(), c.Param("id"), userID, req.Score, req.Metadata, req.Signature)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"submitted": true})
	}
}

// GetLeaderboard handles GET /tournaments/:id/leaderboard. Standings
// are served from a short-lived Redis cache to keep hot tournaments
// from hammering the ranked-scores query.
func GetLeaderboard(svc *tournament.Service, rdb *redis.Client, cfg *config.Config) gin.HandlerFunc {
	ttl := time.Duration(cfg.LeaderboardCacheSeconds) * time.Second
	return func(c *gin.Context) {
		id := c.Param("id")
		key := "leaderboard:" + id
		ctx := c.Request.Context()

		if cached, err := rdb.Get(ctx, key).Result(); err == nil {
			c.Data(http.StatusOK, "application/json", []byte(cached))
			return
		}

		rows, err := svc.Leaderboard(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}

		body, err := json.Marshal(gin.H{"tournament_id": id, "leaderboard": rows})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if ttl > 0 {
			if err := rdb.Set(context.Background(), key, body, ttl).Err(); err != nil {
				log.Printf("[API] Failed to cache leaderboard for %s: %v", id, err)
			}
		}
		c.Data(http.StatusOK, "application/json", body)
	}
}
