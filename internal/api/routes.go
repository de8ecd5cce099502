package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/skillplay/backend/internal/api/handlers"
	"github.com/skillplay/backend/internal/config"
	"github.com/skillplay/backend/internal/matchmaking"
	"github.com/skillplay/backend/internal/store"
	"github.com/skillplay/backend/internal/tournament"
	"github.com/skillplay/backend/internal/ws"
)

// Deps carries everything the route handlers need.
type Deps struct {
	Cfg         *config.Config
	Rdb         *redis.Client
	Store       store.EntryStore
	Tournaments *tournament.Service
	Queue       *matchmaking.Queue
	Hub         *ws.Hub
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, d Deps) {
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	if d.Cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
			c.Next()
		})
		log.Println("[DEV MODE] Aggressive no-cache headers enabled for all routes")
	}

	auth := handlers.AuthMiddleware(d.Cfg)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		v1.POST("/auth/token", handlers.IssueToken(d.Store, d.Cfg))

		// Real-time event stream
		v1.GET("/ws", auth, handlers.HandleWebSocket(d.Hub))

		games := v1.Group("/games")
		{
			games.GET("", handlers.ListGames(d.Store))
			games.GET("/:id", handlers.GetGame(d.Store))
		}

		tournaments := v1.Group("/tournaments")
		{
			tournaments.GET("", handlers.ListTournaments(d.Tournaments))
			tournaments.GET("/:id", handlers.GetTournament(d.Tournaments))
			tournaments.GET("/:id/leaderboard", handlers.GetLeaderboard(d.Tournaments, d.Rdb, d.Cfg))

			tournaments.POST("", auth, handlers.CreateTournament(d.Tournaments))
			tournaments.POST("/:id/join", auth, handlers.JoinTournament(d.Tournaments))
			tournaments.POST("/:id/leave", auth, handlers.LeaveTournament(d.Tournaments))
			tournaments.POST("/:id/scores", auth, handlers.SubmitScore(d.Tournaments))
		}

		mm := v1.Group("/matchmaking", auth)
		{
			mm.POST("/join", handlers.JoinQueue(d.Queue, d.Store))
			mm.POST("/leave", handlers.LeaveQueue(d.Queue))
		}

		me := v1.Group("/me", auth)
		{
			me.GET("", handlers.GetMe(d.Store))
			me.GET("/entries", handlers.GetMyEntries(d.Tournaments))
		}
	}
}
