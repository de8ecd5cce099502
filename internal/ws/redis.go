package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// StartEventSubscriber bridges the tournament_events pubsub channel to
// the hub. Runs until ctx is cancelled.
func StartEventSubscriber(ctx context.Context, rdb *redis.Client, hub *Hub) {
	pubsub := rdb.Subscribe(ctx, eventsChannel)
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		log.Println("[WS] tournament_events subscriber started")

		for {
			select {
			case <-ctx.Done():
				log.Println("[WS] tournament_events subscriber stopped")
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				dispatchEvent(hub, msg.Payload)
			}
		}
	}()
}

func dispatchEvent(hub *Hub, raw string) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		log.Printf("[WS] invalid event payload: %v", err)
		return
	}

	typeStr, _ := payload["type"].(string)
	tournamentID, _ := payload["tournament_id"].(string)

	switch typeStr {
	case "tournament_state", "leaderboard_updated":
		if tournamentID == "" {
			log.Printf("[WS] %s event without tournament_id, dropping", typeStr)
			return
		}
		hub.BroadcastToTournament(tournamentID, payload)

	case "match_found":
		// Targeted delivery: matched players may not be in any room yet
		ids, _ := payload["user_ids"].([]interface{})
		for _, id := range ids {
			if userID, ok := id.(string); ok {
				hub.SendToUser(userID, payload)
			}
		}

	default:
		log.Printf("[WS] unknown event type: %s", typeStr)
	}
}
