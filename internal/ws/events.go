package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/skillplay/backend/internal/matchmaking"
)

const eventsChannel = "tournament_events"

// Publisher pushes tournament events through Redis pubsub so every
// process's hub sees them, not just the one that ran the transition.
// It satisfies both the tournament and matchmaking notifier contracts.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) publish(event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Failed to encode event: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.rdb.Publish(ctx, eventsChannel, data).Err(); err != nil {
		log.Printf("[WS] Failed to publish event: %v", err)
	}
}

func (p *Publisher) NotifyStateChanged(tournamentID, status string) {
	p.publish(map[string]interface{}{
		"type":          "tournament_state",
		"tournament_id": tournamentID,
		"status":        status,
	})
}

func (p *Publisher) NotifyLeaderboardUpdated(tournamentID string) {
	p.publish(map[string]interface{}{
		"type":          "leaderboard_updated",
		"tournament_id": tournamentID,
	})
}

func (p *Publisher) NotifyMatchFound(m matchmaking.MatchFormed, tournamentID string) {
	userIDs := make([]string, 0, len(m.Players))
	opponents := make([]map[string]string, 0, len(m.Players))
	for _, pl := range m.Players {
		userIDs = append(userIDs, pl.UserID)
		opponents = append(opponents, map[string]string{
			"user_id":  pl.UserID,
			"username": pl.Username,
		})
	}
	p.publish(map[string]interface{}{
		"type":          "match_found",
		"match_id":      m.MatchID,
		"tournament_id": tournamentID,
		"game_id":       m.GameID,
		"mode":          m.Mode,
		"players":       opponents,
		"user_ids":      userIDs,
		"starts_at":     m.StartsAt.UTC().Format(time.RFC3339),
	})
}
