package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skillplay/backend/internal/models"
)

// Sentinel errors surfaced by EntryStore implementations. Callers branch
// with errors.Is; handlers map them to HTTP codes.
var (
	ErrNotFound       = errors.New("requested resource not found")
	ErrDuplicateEntry = errors.New("user already has an entry for this tournament")
	ErrTournamentFull = errors.New("tournament is full")
	ErrNotAccepting   = errors.New("tournament is not accepting entries")
	ErrTransient      = errors.New("transient store error")
)

// TournamentFilter narrows ListTournaments
type TournamentFilter struct {
	Status string
	Mode   string
	GameID string
	Limit  int
	Offset int
}

// EntryStore is the transactional repository for tournaments, entries,
// scores and ledger rows. Status transitions are guarded compare-and-set
// operations: they report whether the flip happened so at-least-once job
// handlers can no-op on redelivery. The current_players counter is only
// ever mutated through AddPlayer/RemovePlayer, never read-modify-written.
type EntryStore interface {
	// Games
	GetGame(ctx context.Context, id string) (*models.Game, error)
	ListGames(ctx context.Context) ([]models.Game, error)

	// Users
	GetUser(ctx context.Context, id string) (*models.User, error)
	IncrementUserStats(ctx context.Context, userID string, won bool, earnings decimal.Decimal) error

	// Tournaments
	CreateTournament(ctx context.Context, t *models.Tournament) error
	GetTournament(ctx context.Context, id string) (*models.Tournament, error)
	ListTournaments(ctx context.Context, f TournamentFilter) ([]models.Tournament, error)

	// CancelUnderSubscribed flips an accepting tournament to CANCELLED
	// only while current_players is still below min_players; the counter
	// check lives inside the guard so a racing join cannot be cancelled
	// away on a stale read.
	CancelUnderSubscribed(ctx context.Context, id string) (bool, error)
	// MarkStarted flips an accepting tournament to IN_PROGRESS and stamps
	// actual_start, guarded on current_players >= min_players.
	MarkStarted(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkCompleted flips IN_PROGRESS to COMPLETED plus actual_end and
	// the now-fixed platform fee amount.
	MarkCompleted(ctx context.Context, id string, at time.Time, platformFee decimal.Decimal) (bool, error)

	// AddPlayer atomically increments current_players, bounded by
	// max_players and gated on an entry-accepting status.
	AddPlayer(ctx context.Context, tournamentID string) error
	// RemovePlayer atomically decrements current_players while entries
	// are still accepted.
	RemovePlayer(ctx context.Context, tournamentID string) error

	// Entries
	CreateEntry(ctx context.Context, e *models.TournamentEntry) error
	FindEntry(ctx context.Context, tournamentID, userID string) (*models.TournamentEntry, error)
	GetEntry(ctx context.Context, entryID string) (*models.TournamentEntry, error)
	ListEntries(ctx context.Context, tournamentID, status string) ([]models.TournamentEntry, error)
	ListUserEntries(ctx context.Context, userID string) ([]models.TournamentEntry, error)
	// MarkEntryRefunded flips an entry to REFUNDED iff its status is one
	// of `from`; reports whether the flip happened.
	MarkEntryRefunded(ctx context.Context, entryID string, from []string) (bool, error)
	// CompleteEntry stamps completed_at and sets COMPLETED; legal from
	// PLAYING or COMPLETED (resubmission).
	CompleteEntry(ctx context.Context, entryID string, at time.Time) error
	// PromoteEntries is the batch status-guarded promotion used by the
	// start transition ("set to X where currently Y").
	PromoteEntries(ctx context.Context, tournamentID, from, to string, at time.Time) (int, error)
	SetEntryResult(ctx context.Context, tournamentID, userID string, rank int, prize decimal.NullDecimal) error

	// Scores
	UpsertScore(ctx context.Context, s *models.GameScore) error
	// ListScoresRanked returns scores ordered best-first: score
	// descending, earlier submission winning ties.
	ListScoresRanked(ctx context.Context, tournamentID string) ([]models.GameScore, error)

	// Ledger
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	HasTransaction(ctx context.Context, txType, referenceType, referenceID string) (bool, error)
}
