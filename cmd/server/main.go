package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/skillplay/backend/internal/api"
	"github.com/skillplay/backend/internal/config"
	"github.com/skillplay/backend/internal/database"
	"github.com/skillplay/backend/internal/jobs"
	"github.com/skillplay/backend/internal/matchmaking"
	"github.com/skillplay/backend/internal/migrations"
	"github.com/skillplay/backend/internal/redis"
	"github.com/skillplay/backend/internal/store"
	"github.com/skillplay/backend/internal/tournament"
	"github.com/skillplay/backend/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	rdb, err := redis.Connect(cfg.RedisURL, cfg.RedisPoolSize)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	entryStore := store.NewPostgresStore(db,
		time.Duration(cfg.StoreTimeoutSeconds)*time.Second, cfg.StoreRetryAttempts)

	dispatcher := jobs.NewRedisDispatcher(rdb,
		time.Duration(cfg.DispatcherPollSeconds)*time.Second, cfg.DispatcherMaxAttempts)

	publisher := ws.NewPublisher(rdb)

	tournaments := tournament.NewService(entryStore, dispatcher, publisher, tournament.Config{
		DefaultMinPlayers:         cfg.DefaultMinPlayers,
		DefaultPlatformFeePercent: decimal.NewFromInt(int64(cfg.DefaultPlatformFeePct)),
		MatchCountdown:            time.Duration(cfg.MatchCountdownSeconds) * time.Second,
		MatchDuration:             time.Duration(cfg.MatchDurationSeconds) * time.Second,
	})
	tournaments.RegisterHandlers(dispatcher)

	queue := matchmaking.NewQueue(
		matchmaking.NewRedisStore(rdb),
		entryStore,
		tournaments,
		publisher,
		time.Duration(cfg.MatchCountdownSeconds)*time.Second,
		time.Duration(cfg.QueueEntryTTLMinutes)*time.Minute,
	)

	// Real-time layer: hub for this process, pubsub bridge for events
	// raised by any process
	hub := ws.NewHub()
	ws.StartEventSubscriber(ctx, rdb, hub)

	// Start the scheduled-job worker (tournament start/end, refunds)
	go dispatcher.Run(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	api.SetupRoutes(router, api.Deps{
		Cfg:         cfg,
		Rdb:         rdb,
		Store:       entryStore,
		Tournaments: tournaments,
		Queue:       queue,
		Hub:         hub,
	})

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		log.Printf("Starting SkillPlay server on port %s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Drain in-flight requests on SIGINT/SIGTERM; the dispatcher and
	// subscriber stop with ctx
	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
