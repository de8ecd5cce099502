package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Redis
	RedisURL      string
	RedisPoolSize int

	// Server
	Port        string
	FrontendURL string

	// Tournament settings
	DefaultMinPlayers       int
	DefaultPlatformFeePct   int
	MatchCountdownSeconds   int
	MatchDurationSeconds    int
	DispatcherPollSeconds   int
	DispatcherMaxAttempts   int
	QueueEntryTTLMinutes    int
	LeaderboardCacheSeconds int
	StoreRetryAttempts      int
	StoreTimeoutSeconds     int

	// Security
	JWTSecret         string
	SessionTimeoutMin int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/skillplay?sslmode=disable"),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPoolSize: getEnvInt("REDIS_POOL_SIZE", 10),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		// Tournament settings
		DefaultMinPlayers:       getEnvInt("DEFAULT_MIN_PLAYERS", 2),
		DefaultPlatformFeePct:   getEnvInt("DEFAULT_PLATFORM_FEE_PERCENT", 10),
		MatchCountdownSeconds:   getEnvInt("MATCH_COUNTDOWN_SECONDS", 10),
		MatchDurationSeconds:    getEnvInt("MATCH_DURATION_SECONDS", 300),
		DispatcherPollSeconds:   getEnvInt("DISPATCHER_POLL_SECONDS", 1),
		DispatcherMaxAttempts:   getEnvInt("DISPATCHER_MAX_ATTEMPTS", 10),
		QueueEntryTTLMinutes:    getEnvInt("QUEUE_ENTRY_TTL_MINUTES", 60),
		LeaderboardCacheSeconds: getEnvInt("LEADERBOARD_CACHE_SECONDS", 60),
		StoreRetryAttempts:      getEnvInt("STORE_RETRY_ATTEMPTS", 3),
		StoreTimeoutSeconds:     getEnvInt("STORE_TIMEOUT_SECONDS", 5),

		// Security
		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production"),
		SessionTimeoutMin: getEnvInt("SESSION_TIMEOUT_MINUTES", 30),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
