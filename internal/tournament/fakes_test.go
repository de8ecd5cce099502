package tournament

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skillplay/backend/internal/models"
	"github.com/skillplay/backend/internal/store"
)

// memEntryStore is an in-memory EntryStore honoring the same guarded
// compare-and-set semantics as the Postgres implementation.
type memEntryStore struct {
	mu          sync.Mutex
	games       map[string]*models.Game
	users       map[string]*models.User
	tournaments map[string]*models.Tournament
	entries     map[string]*models.TournamentEntry
	scores      map[string]*models.GameScore
	txns        []*models.Transaction
	statsCalls  []statsCall
}

type statsCall struct {
	UserID   string
	Won      bool
	Earnings decimal.Decimal
}

func newMemEntryStore() *memEntryStore {
	return &memEntryStore{
		games:       make(map[string]*models.Game),
		users:       make(map[string]*models.User),
		tournaments: make(map[string]*models.Tournament),
		entries:     make(map[string]*models.TournamentEntry),
		scores:      make(map[string]*models.GameScore),
	}
}

func scoreKey(tournamentID, userID string) string {
	return tournamentID + "|" + userID
}

func (m *memEntryStore) GetGame(_ context.Context, id string) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memEntryStore) ListGames(_ context.Context) ([]models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Game
	for _, g := range m.games {
		if g.Status == "APPROVED" {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *memEntryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memEntryStore) IncrementUserStats(_ context.Context, userID string, won bool, earnings decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsCalls = append(m.statsCalls, statsCall{UserID: userID, Won: won, Earnings: earnings})
	if u, ok := m.users[userID]; ok {
		u.TotalMatches++
		if won {
			u.TotalWins++
		}
		u.TotalEarnings = u.TotalEarnings.Add(earnings)
	}
	return nil
}

func (m *memEntryStore) CreateTournament(_ context.Context, t *models.Tournament) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tournaments[t.ID] = &cp
	return nil
}

func (m *memEntryStore) GetTournament(_ context.Context, id string) (*models.Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memEntryStore) ListTournaments(_ context.Context, f store.TournamentFilter) ([]models.Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Tournament
	for _, t := range m.tournaments {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Mode != "" && t.Mode != f.Mode {
			continue
		}
		if f.GameID != "" && t.GameID != f.GameID {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledStart.Before(out[j].ScheduledStart) })
	return out, nil
}

func (m *memEntryStore) transition(id string, from []string, to string, guard func(*models.Tournament) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return false, nil
	}
	if guard != nil && !guard(t) {
		return false, nil
	}
	for _, f := range from {
		if t.Status == f {
			t.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memEntryStore) CancelUnderSubscribed(_ context.Context, id string) (bool, error) {
	return m.transition(id,
		[]string{models.TournamentScheduled, models.TournamentOpen}, models.TournamentCancelled,
		func(t *models.Tournament) bool { return t.CurrentPlayers < t.MinPlayers })
}

func (m *memEntryStore) MarkStarted(_ context.Context, id string, at time.Time) (bool, error) {
	flipped, err := m.transition(id,
		[]string{models.TournamentScheduled, models.TournamentOpen}, models.TournamentInProgress,
		func(t *models.Tournament) bool { return t.CurrentPlayers >= t.MinPlayers })
	if flipped {
		m.mu.Lock()
		m.tournaments[id].ActualStart.Time = at
		m.tournaments[id].ActualStart.Valid = true
		m.mu.Unlock()
	}
	return flipped, err
}

func (m *memEntryStore) MarkCompleted(_ context.Context, id string, at time.Time, platformFee decimal.Decimal) (bool, error) {
	flipped, err := m.transition(id,
		[]string{models.TournamentInProgress}, models.TournamentCompleted, nil)
	if flipped {
		m.mu.Lock()
		t := m.tournaments[id]
		t.ActualEnd.Time = at
		t.ActualEnd.Valid = true
		t.PlatformFeeAmount = decimal.NullDecimal{Decimal: platformFee, Valid: true}
		m.mu.Unlock()
	}
	return flipped, err
}

func (m *memEntryStore) AddPlayer(_ context.Context, tournamentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[tournamentID]
	if !ok {
		return store.ErrNotFound
	}
	if !t.AcceptingEntries() {
		return store.ErrNotAccepting
	}
	if t.CurrentPlayers >= t.MaxPlayers {
		return store.ErrTournamentFull
	}
	t.CurrentPlayers++
	return nil
}

func (m *memEntryStore) RemovePlayer(_ context.Context, tournamentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[tournamentID]
	if !ok {
		return store.ErrNotFound
	}
	if t.AcceptingEntries() && t.CurrentPlayers > 0 {
		t.CurrentPlayers--
	}
	return nil
}

func (m *memEntryStore) CreateEntry(_ context.Context, e *models.TournamentEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.entries {
		if ex.TournamentID == e.TournamentID && ex.UserID == e.UserID {
			return store.ErrDuplicateEntry
		}
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memEntryStore) FindEntry(_ context.Context, tournamentID, userID string) (*models.TournamentEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.TournamentID == tournamentID && e.UserID == userID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memEntryStore) GetEntry(_ context.Context, entryID string) (*models.TournamentEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memEntryStore) ListEntries(_ context.Context, tournamentID, status string) ([]models.TournamentEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TournamentEntry
	for _, e := range m.entries {
		if e.TournamentID != tournamentID {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *memEntryStore) ListUserEntries(_ context.Context, userID string) ([]models.TournamentEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TournamentEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	return out, nil
}

func (m *memEntryStore) MarkEntryRefunded(_ context.Context, entryID string, from []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if e.Status == f {
			e.Status = models.EntryRefunded
			return true, nil
		}
	}
	return false, nil
}

func (m *memEntryStore) CompleteEntry(_ context.Context, entryID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status == models.EntryPlaying || e.Status == models.EntryCompleted {
		e.Status = models.EntryCompleted
		e.CompletedAt.Time = at
		e.CompletedAt.Valid = true
	}
	return nil
}

func (m *memEntryStore) PromoteEntries(_ context.Context, tournamentID, from, to string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.TournamentID == tournamentID && e.Status == from {
			e.Status = to
			if to == models.EntryPlaying {
				e.StartedAt.Time = at
				e.StartedAt.Valid = true
			} else {
				e.CompletedAt.Time = at
				e.CompletedAt.Valid = true
			}
			n++
		}
	}
	return n, nil
}

func (m *memEntryStore) SetEntryResult(_ context.Context, tournamentID, userID string, rank int, won decimal.NullDecimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.TournamentID == tournamentID && e.UserID == userID {
			e.FinalRank.Int64 = int64(rank)
			e.FinalRank.Valid = true
			e.PrizeWon = won
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memEntryStore) UpsertScore(_ context.Context, sc *models.GameScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sc
	m.scores[scoreKey(sc.TournamentID, sc.UserID)] = &cp
	return nil
}

func (m *memEntryStore) ListScoresRanked(_ context.Context, tournamentID string) ([]models.GameScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GameScore
	for _, sc := range m.scores {
		if sc.TournamentID == tournamentID {
			out = append(out, *sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func (m *memEntryStore) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.txns {
		if ex.Type == tx.Type && ex.ReferenceType == tx.ReferenceType && ex.ReferenceID == tx.ReferenceID {
			return store.ErrDuplicateEntry
		}
	}
	cp := *tx
	m.txns = append(m.txns, &cp)
	return nil
}

func (m *memEntryStore) HasTransaction(_ context.Context, txType, referenceType, referenceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txns {
		if tx.Type == txType && tx.ReferenceType.String == referenceType && tx.ReferenceID.String == referenceID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memEntryStore) transactions(txType string) []*models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range m.txns {
		if tx.Type == txType {
			out = append(out, tx)
		}
	}
	return out
}

// fakeDispatcher records enqueued jobs without delivering them.
type fakeDispatcher struct {
	mu       sync.Mutex
	enqueued []enqueuedJob
}

type enqueuedJob struct {
	Type    string
	Payload interface{}
	Delay   time.Duration
}

func (d *fakeDispatcher) Enqueue(_ context.Context, jobType string, payload interface{}, delay time.Duration) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueued = append(d.enqueued, enqueuedJob{Type: jobType, Payload: payload, Delay: delay})
	return fmt.Sprintf("job_%d", len(d.enqueued)), nil
}

func (d *fakeDispatcher) byType(jobType string) []enqueuedJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []enqueuedJob
	for _, j := range d.enqueued {
		if j.Type == jobType {
			out = append(out, j)
		}
	}
	return out
}

// fakeStateNotifier records lifecycle and leaderboard pushes.
type fakeStateNotifier struct {
	mu           sync.Mutex
	stateChanges []string
	leaderboards []string
}

func (n *fakeStateNotifier) NotifyStateChanged(tournamentID, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stateChanges = append(n.stateChanges, tournamentID+":"+status)
}

func (n *fakeStateNotifier) NotifyLeaderboardUpdated(tournamentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leaderboards = append(n.leaderboards, tournamentID)
}
