package matchmaking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skillplay/backend/internal/models"
	"github.com/skillplay/backend/internal/store"
)

var (
	// ErrInvalidMode means the game does not support the requested mode.
	ErrInvalidMode = errors.New("game does not support the requested mode")
	// ErrGameNotAvailable means the game is unknown or not approved.
	ErrGameNotAvailable = errors.New("game is not available for matchmaking")
)

// Entry is one player waiting in a pool. Ephemeral: it lives only in
// the queue store and is destroyed on formation, leave or disconnect.
type Entry struct {
	UserID   string          `json:"user_id"`
	Username string          `json:"username"`
	JoinedAt int64           `json:"joined_at"`
	EntryFee decimal.Decimal `json:"entry_fee"`
	Currency string          `json:"currency"`
}

// MatchFormed is emitted when a pool reaches its threshold.
type MatchFormed struct {
	MatchID  string
	GameID   string
	Mode     string
	Players  []Entry
	StartsAt time.Time
}

// Store is the atomic sorted-collection backing the pools. PopReady must
// remove the n oldest entries and return them in join order as a single
// atomic operation, or return nil when the pool holds fewer than n.
// Two concurrent formation attempts must never receive overlapping
// players.
type Store interface {
	Add(ctx context.Context, key string, e Entry) error
	PopReady(ctx context.Context, key string, n int) ([]Entry, error)
	Remove(ctx context.Context, key, userID string) error
	SetUserKey(ctx context.Context, userID, key string, ttl time.Duration) error
	GetUserKey(ctx context.Context, userID string) (string, error)
	ClearUserKey(ctx context.Context, userID string) error
}

// GameSource resolves games for join-time eligibility checks.
type GameSource interface {
	GetGame(ctx context.Context, id string) (*models.Game, error)
}

// Binder creates the backing tournament/match for a formed group.
type Binder interface {
	BindMatch(ctx context.Context, m MatchFormed) (tournamentID string, err error)
}

// Notifier pushes match:found to the matched players. Fire-and-forget.
type Notifier interface {
	NotifyMatchFound(m MatchFormed, tournamentID string)
}

// Queue is the per-(game, mode) FIFO matchmaking pool. First come,
// first served; no skill-based matching happens at this layer.
type Queue struct {
	store     Store
	games     GameSource
	binder    Binder
	notifier  Notifier
	countdown time.Duration
	userTTL   time.Duration
}

func NewQueue(st Store, games GameSource, binder Binder, notifier Notifier, countdown, userTTL time.Duration) *Queue {
	return &Queue{
		store:     st,
		games:     games,
		binder:    binder,
		notifier:  notifier,
		countdown: countdown,
		userTTL:   userTTL,
	}
}

func queueKey(gameID, mode string) string {
	return fmt.Sprintf("matchmaking:%s:%s", gameID, mode)
}

// JoinResult reports the outcome of a join request.
type JoinResult struct {
	Queued bool
	Match  *MatchFormed
}

// Join validates eligibility, appends the player to the pool in join
// order and attempts formation.
func (q *Queue) Join(ctx context.Context, gameID, mode, userID, username string, entryFee decimal.Decimal, currency string) (*JoinResult, error) {
	game, err := q.games.GetGame(ctx, gameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGameNotAvailable
		}
		return nil, err
	}
	if game.Status != "APPROVED" {
		return nil, ErrGameNotAvailable
	}

	switch mode {
	case models.ModeSync:
		if !game.SupportsSync {
			return nil, ErrInvalidMode
		}
	case models.ModeAsync:
		if !game.SupportsAsync {
			return nil, ErrInvalidMode
		}
	default:
		return nil, ErrInvalidMode
	}

	key := queueKey(gameID, mode)
	entry := Entry{
		UserID:   userID,
		Username: username,
		JoinedAt: time.Now().UnixMilli(),
		EntryFee: entryFee,
		Currency: currency,
	}

	if err := q.store.Add(ctx, key, entry); err != nil {
		return nil, err
	}
	if err := q.store.SetUserKey(ctx, userID, key, q.userTTL); err != nil {
		log.Printf("[MATCHMAKER] Failed to index user %s: %v", userID, err)
	}

	log.Printf("[MATCHMAKER] User %s joined pool %s", username, key)

	match, err := q.tryForm(ctx, gameID, mode, game.MinPlayers)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Queued: match == nil, Match: match}, nil
}

// Leave removes the user's pool entry if present. Idempotent: leaving
// when not queued is a no-op.
func (q *Queue) Leave(ctx context.Context, userID string) error {
	key, err := q.store.GetUserKey(ctx, userID)
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	if err := q.store.Remove(ctx, key, userID); err != nil {
		return err
	}
	if err := q.store.ClearUserKey(ctx, userID); err != nil {
		log.Printf("[MATCHMAKER] Failed to clear index for user %s: %v", userID, err)
	}
	log.Printf("[MATCHMAKER] User %s left pool %s", userID, key)
	return nil
}

// tryForm pops the minPlayers oldest entries when the pool is ready and
// binds a match. The pop is a single atomic store operation, so
// concurrent attempts over the same pool cannot double-match a player.
func (q *Queue) tryForm(ctx context.Context, gameID, mode string, minPlayers int) (*MatchFormed, error) {
	key := queueKey(gameID, mode)

	players, err := q.store.PopReady(ctx, key, minPlayers)
	if err != nil {
		return nil, err
	}
	if players == nil {
		return nil, nil
	}

	match := MatchFormed{
		MatchID:  newMatchID(),
		GameID:   gameID,
		Mode:     mode,
		Players:  players,
		StartsAt: time.Now().Add(q.countdown),
	}

	tournamentID, err := q.binder.BindMatch(ctx, match)
	if err != nil {
		// Put the group back under their original join times so nobody
		// loses queue position over a failed bind
		for _, p := range players {
			if aerr := q.store.Add(ctx, key, p); aerr != nil {
				log.Printf("[MATCHMAKER] Failed to requeue user %s after bind failure: %v", p.UserID, aerr)
			}
		}
		return nil, fmt.Errorf("bind match %s: %w", match.MatchID, err)
	}

	for _, p := range players {
		if err := q.store.ClearUserKey(ctx, p.UserID); err != nil {
			log.Printf("[MATCHMAKER] Failed to clear index for matched user %s: %v", p.UserID, err)
		}
	}

	log.Printf("[MATCHMAKER] Match %s formed: game=%s mode=%s players=%d tournament=%s",
		match.MatchID, gameID, mode, len(players), tournamentID)

	if q.notifier != nil {
		q.notifier.NotifyMatchFound(match, tournamentID)
	}

	return &match, nil
}

func newMatchID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("match_%d", time.Now().UnixNano())
	}
	return "match_" + hex.EncodeToString(b)
}
