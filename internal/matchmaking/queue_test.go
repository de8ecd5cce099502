package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skillplay/backend/internal/models"
	"github.com/skillplay/backend/internal/store"
)

// memStore is an in-memory Store with the same atomicity contract as
// the Redis implementation: PopReady is all-or-nothing under one lock.
type memStore struct {
	mu       sync.Mutex
	pools    map[string][]Entry
	userKeys map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		pools:    make(map[string][]Entry),
		userKeys: make(map[string]string),
	}
}

func (s *memStore) Add(_ context.Context, key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[key] = append(s.pools[key], e)
	return nil
}

func (s *memStore) PopReady(_ context.Context, key string, n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool := s.pools[key]
	if len(pool) < n {
		return nil, nil
	}
	popped := make([]Entry, n)
	copy(popped, pool[:n])
	s.pools[key] = pool[n:]
	return popped, nil
}

func (s *memStore) Remove(_ context.Context, key, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool := s.pools[key]
	for i, e := range pool {
		if e.UserID == userID {
			s.pools[key] = append(pool[:i], pool[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) SetUserKey(_ context.Context, userID, key string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userKeys[userID] = key
	return nil
}

func (s *memStore) GetUserKey(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userKeys[userID], nil
}

func (s *memStore) ClearUserKey(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userKeys, userID)
	return nil
}

type fakeGames struct {
	games map[string]*models.Game
}

func (f *fakeGames) GetGame(_ context.Context, id string) (*models.Game, error) {
	g, ok := f.games[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g, nil
}

type fakeBinder struct {
	mu       sync.Mutex
	matches  []MatchFormed
	failures int
}

func (f *fakeBinder) BindMatch(_ context.Context, m MatchFormed) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return "", errors.New("tournament store offline")
	}
	f.matches = append(f.matches, m)
	return fmt.Sprintf("trn_%d", len(f.matches)), nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	found []string
}

func (f *fakeNotifier) NotifyMatchFound(m MatchFormed, tournamentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.found = append(f.found, tournamentID)
}

func testGame(minPlayers int) *models.Game {
	return &models.Game{
		ID:            "game_1",
		Name:          "Blitz Arena",
		Status:        "APPROVED",
		MinPlayers:    minPlayers,
		MaxPlayers:    minPlayers,
		SupportsSync:  true,
		SupportsAsync: false,
	}
}

func newTestQueue(g *models.Game) (*Queue, *memStore, *fakeBinder, *fakeNotifier) {
	st := newMemStore()
	binder := &fakeBinder{}
	notifier := &fakeNotifier{}
	games := &fakeGames{games: map[string]*models.Game{g.ID: g}}
	q := NewQueue(st, games, binder, notifier, 10*time.Second, time.Hour)
	return q, st, binder, notifier
}

func TestJoinFormsMatchInJoinOrder(t *testing.T) {
	q, _, binder, notifier := newTestQueue(testGame(2))
	ctx := context.Background()
	fee := decimal.NewFromInt(5)

	res, err := q.Join(ctx, "game_1", models.ModeSync, "u1", "alice", fee, "USDT")
	if err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if !res.Queued || res.Match != nil {
		t.Fatalf("first join should queue, got %+v", res)
	}

	res, err = q.Join(ctx, "game_1", models.ModeSync, "u2", "bob", fee, "USDT")
	if err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	if res.Match == nil {
		t.Fatal("second join should form a match")
	}

	if len(binder.matches) != 1 {
		t.Fatalf("expected 1 bound match, got %d", len(binder.matches))
	}
	m := binder.matches[0]
	if len(m.Players) != 2 || m.Players[0].UserID != "u1" || m.Players[1].UserID != "u2" {
		t.Errorf("players out of join order: %+v", m.Players)
	}
	if len(notifier.found) != 1 {
		t.Errorf("expected 1 match:found notification, got %d", len(notifier.found))
	}
}

func TestJoinLeavesRemainderQueued(t *testing.T) {
	q, st, binder, _ := newTestQueue(testGame(2))
	ctx := context.Background()
	fee := decimal.NewFromInt(5)

	for i, u := range []string{"u1", "u2", "u3"} {
		if _, err := q.Join(ctx, "game_1", models.ModeSync, u, fmt.Sprintf("p%d", i), fee, "USDT"); err != nil {
			t.Fatalf("join %s failed: %v", u, err)
		}
	}

	if len(binder.matches) != 1 {
		t.Fatalf("expected 1 match from 3 joins, got %d", len(binder.matches))
	}
	key := queueKey("game_1", models.ModeSync)
	if remaining := len(st.pools[key]); remaining != 1 {
		t.Errorf("expected 1 player left in pool, got %d", remaining)
	}
	if st.pools[key][0].UserID != "u3" {
		t.Errorf("remaining player should be u3, got %s", st.pools[key][0].UserID)
	}
}

func TestJoinRejectsUnsupportedMode(t *testing.T) {
	q, _, _, _ := newTestQueue(testGame(2))

	_, err := q.Join(context.Background(), "game_1", models.ModeAsync, "u1", "alice", decimal.Zero, "USDT")
	if !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}

	_, err = q.Join(context.Background(), "game_1", "TURBO", "u1", "alice", decimal.Zero, "USDT")
	if !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode for unknown mode, got %v", err)
	}
}

func TestJoinRejectsUnavailableGame(t *testing.T) {
	pending := testGame(2)
	pending.Status = "PENDING_REVIEW"
	q, _, _, _ := newTestQueue(pending)

	_, err := q.Join(context.Background(), "game_1", models.ModeSync, "u1", "alice", decimal.Zero, "USDT")
	if !errors.Is(err, ErrGameNotAvailable) {
		t.Errorf("expected ErrGameNotAvailable for unapproved game, got %v", err)
	}

	_, err = q.Join(context.Background(), "game_missing", models.ModeSync, "u1", "alice", decimal.Zero, "USDT")
	if !errors.Is(err, ErrGameNotAvailable) {
		t.Errorf("expected ErrGameNotAvailable for unknown game, got %v", err)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	q, st, _, _ := newTestQueue(testGame(3))
	ctx := context.Background()

	if _, err := q.Join(ctx, "game_1", models.ModeSync, "u1", "alice", decimal.Zero, "USDT"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if err := q.Leave(ctx, "u1"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	key := queueKey("game_1", models.ModeSync)
	if len(st.pools[key]) != 0 {
		t.Errorf("pool should be empty after leave, has %d", len(st.pools[key]))
	}

	// Second leave and leave-while-never-queued are no-ops
	if err := q.Leave(ctx, "u1"); err != nil {
		t.Errorf("repeated leave should be a no-op, got %v", err)
	}
	if err := q.Leave(ctx, "u_never"); err != nil {
		t.Errorf("leave for unqueued user should be a no-op, got %v", err)
	}
}

func TestBindFailureRequeuesPlayers(t *testing.T) {
	q, st, binder, notifier := newTestQueue(testGame(2))
	ctx := context.Background()
	fee := decimal.NewFromInt(5)
	binder.failures = 1

	if _, err := q.Join(ctx, "game_1", models.ModeSync, "u1", "alice", fee, "USDT"); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if _, err := q.Join(ctx, "game_1", models.ModeSync, "u2", "bob", fee, "USDT"); err == nil {
		t.Fatal("join should surface the bind failure")
	}

	// Both players are back in the pool with their indexes intact
	key := queueKey("game_1", models.ModeSync)
	if got := len(st.pools[key]); got != 2 {
		t.Fatalf("pool holds %d players after failed bind, want 2", got)
	}
	for _, u := range []string{"u1", "u2"} {
		if k, _ := st.GetUserKey(ctx, u); k != key {
			t.Errorf("index for %s = %q after failed bind, want %q", u, k, key)
		}
	}
	if len(notifier.found) != 0 {
		t.Errorf("got %d match:found notifications for an unbound match", len(notifier.found))
	}

	// The next formation attempt matches the original pair first
	if _, err := q.Join(ctx, "game_1", models.ModeSync, "u3", "carol", fee, "USDT"); err != nil {
		t.Fatalf("retry join failed: %v", err)
	}
	if len(binder.matches) != 1 {
		t.Fatalf("expected 1 bound match after retry, got %d", len(binder.matches))
	}
	m := binder.matches[0]
	if len(m.Players) != 2 || m.Players[0].UserID != "u1" || m.Players[1].UserID != "u2" {
		t.Errorf("requeued players lost their order: %+v", m.Players)
	}
}

func TestConcurrentJoinsNeverDoubleMatch(t *testing.T) {
	const players = 40
	const minPlayers = 4

	q, st, binder, _ := newTestQueue(testGame(minPlayers))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%02d", n)
			if _, err := q.Join(ctx, "game_1", models.ModeSync, userID, userID, decimal.Zero, "USDT"); err != nil {
				t.Errorf("join %s failed: %v", userID, err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, m := range binder.matches {
		if len(m.Players) != minPlayers {
			t.Errorf("match %s has %d players, want %d", m.MatchID, len(m.Players), minPlayers)
		}
		for _, p := range m.Players {
			if seen[p.UserID] {
				t.Errorf("user %s matched twice", p.UserID)
			}
			seen[p.UserID] = true
		}
	}

	key := queueKey("game_1", models.ModeSync)
	matched := len(seen)
	queued := len(st.pools[key])
	if matched+queued != players {
		t.Errorf("matched (%d) + queued (%d) != joined (%d)", matched, queued, players)
	}
	if queued >= minPlayers {
		t.Errorf("%d players left queued with threshold %d", queued, minPlayers)
	}
}
