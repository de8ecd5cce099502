package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect builds the shared Redis client backing the matchmaking pools,
// the scheduled-job set, the leaderboard cache and pubsub.
func Connect(redisURL string, poolSize int) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}
