package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/skillplay/backend/internal/models"
)

// PostgresStore implements EntryStore on sqlx. Every call runs under a
// bounded timeout with a small retry budget for transient failures;
// exhausting it surfaces ErrTransient so scheduled-job handlers can
// report the job failed and lean on dispatcher redelivery.
type PostgresStore struct {
	db       *sqlx.DB
	timeout  time.Duration
	attempts int
}

func NewPostgresStore(db *sqlx.DB, timeout time.Duration, attempts int) *PostgresStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if attempts <= 0 {
		attempts = 3
	}
	return &PostgresStore{db: db, timeout: timeout, attempts: attempts}
}

// do runs fn with a per-attempt timeout, retrying transient errors with
// a short fixed backoff.
func (s *PostgresStore) do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < s.attempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = fn(attemptCtx)
		cancel()
		if err == nil || !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// connection and resource failures; constraint violations are not transient
		return strings.HasPrefix(string(pqErr.Code), "08") || string(pqErr.Code) == "53300" || string(pqErr.Code) == "40001"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ---- Games ----

func (s *PostgresStore) GetGame(ctx context.Context, id string) (*models.Game, error) {
	var g models.Game
	err := s.do(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &g, `SELECT * FROM games WHERE id=$1`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) ListGames(ctx context.Context) ([]models.Game, error) {
	var games []models.Game
	err := s.do(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &games, `SELECT * FROM games WHERE status='APPROVED' ORDER BY name`)
	})
	return games, err
}

// ---- Users ----

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.do(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id=$1`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) IncrementUserStats(ctx context.Context, userID string, won bool, earnings decimal.Decimal) error {
	winInc := 0
	if won {
		winInc = 1
	}
	return s.do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE users SET
				total_matches = total_matches + 1,
				total_wins = total_wins + $1,
				total_earnings = total_earnings + $2
			WHERE id = $3
		`, winInc, earnings, userID)
		return err
	})
}

// ---- Tournaments ----

func (s *PostgresStore) CreateTournament(ctx context.Context, t *models.Tournament) error {
	return s.do(ctx, func(ctx context.Context) error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO tournaments (
				id, game_id, name, description, mode,
				entry_fee, entry_currency, prize_pool, prize_currency,
				min_players, max_players, current_players, prize_distribution,
				scheduled_start, scheduled_end, match_duration, rounds_count,
				platform_fee_percent, status, created_at
			) VALUES (
				:id, :game_id, :name, :description, :mode,
				:entry_fee, :entry_currency, :prize_pool, :prize_currency,
				:min_players, :max_players, 0, :prize_distribution,
				:scheduled_start, :scheduled_end, :match_duration, :rounds_count,
				:platform_fee_percent, :status, NOW()
			)
		`, t)
		return err
	})
}

func (s *PostgresStore) GetTournament(ctx context.Context, id string) (*models.Tournament, error) {
	var t models.Tournament
	err := s.do(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &t, `SELECT * FROM tournaments WHERE id=$1`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) ListTournaments(ctx context.Context, f TournamentFilter) ([]models.Tournament, error) {
	query := `SELECT * FROM tournaments WHERE 1=1`
	args := []interface{}{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if f.Mode != "" {
		args = append(args, f.Mode)
		query += fmt.Sprintf(" AND mode=$%d", len(args))
	}
	if f.GameID != "" {
		args = append(args, f.GameID)
		query += fmt.Sprintf(" AND game_id=$%d", len(args))
	}
	query += " ORDER BY scheduled_start ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var out []models.Tournament
	err := s.do(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &out, query, args...)
	})
	return out, err
}

// CancelUnderSubscribed folds the counter check into the status guard:
// the row only flips while current_players is below the minimum, so a
// join landing after the caller's read makes the update miss instead of
// cancelling a viable tournament.
func (s *PostgresStore) CancelUnderSubscribed(ctx context.Context, id string) (bool, error) {
	var flipped bool
	err := s.do(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tournaments SET status=$1
			WHERE id=$2 AND status = ANY($3) AND current_players < min_players
		`, models.TournamentCancelled, id, pq.Array([]string{models.TournamentScheduled, models.TournamentOpen}))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		flipped = n > 0
		return err
	})
	return flipped, err
}

func (s *PostgresStore) MarkStarted(ctx context.Context, id string, at time.Time) (bool, error) {
	var flipped bool
	err := s.do(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tournaments SET status=$1, actual_start=$2
			WHERE id=$3 AND status = ANY($4) AND current_players >= min_players
		`, models.TournamentInProgress, at, id, pq.Array([]string{models.TournamentScheduled, models.TournamentOpen}))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		flipped = n > 0
		return err
	})
	return flipped, err
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id string, at time.Time, platformFee decimal.Decimal) (bool, error) {
	var flipped bool
	err := s.do(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tournaments SET status=$1, actual_end=$2, platform_fee_amount=$3
			WHERE id=$4 AND status=$5
		`, models.TournamentCompleted, at, platformFee, id, models.TournamentInProgress)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		flipped = n > 0
		return err
	})
	return flipped, err
}

func (s *PostgresStore) AddPlayer(ctx context.Context, tournamentID string) error {
	var n int64
	err := s.do(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tournaments SET current_players = current_players + 1
			WHERE id=$1 AND status = ANY($2) AND current_players < max_players
		`, tournamentID, pq.Array([]string{models.TournamentScheduled, models.TournamentOpen}))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Guard failed: figure out why
	t, err := s.GetTournament(ctx, tournamentID)
	if err != nil {
		return err
	}
	if !t.AcceptingEntries() {
		return ErrNotAccepting
	}
	return ErrTournamentFull
}

func (s *PostgresStore) RemovePlayer(ctx context.Context, tournamentID string) error {
	return s.do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tournaments SET current_players = current_players - 1
			WHERE id=$1 AND status = ANY($2) AND current_players > 0
		`, tournamentID, pq.Array([]string{models.TournamentScheduled, models.TournamentOpen}))
		return err
	})
}

// ---- Entries ----

func (s *PostgresStore) CreateEntry(ctx context.Context, e *models.TournamentEntry) error {
	err := s.do(ctx, func(ctx context.Context) error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO tournament_entries (
				id, tournament_id, user_id, entry_amount, entry_currency,
				entry_tx_hash, status, joined_at
			) VALUES (
				:id, :tournament_id, :user_id, :entry_amount, :entry_currency,
				:entry_tx_hash, :status, :joined_at
			)
		`, e)
		return err
	})
	if isUniqueViolation(err) {
		return ErrDuplicateEntry
	}
	return err
}

func (s *PostgresStore) FindEntry(ctx context.Context, tournamentID, userID string) (*models.TournamentEntry, error) {
	var e models.TournamentEntry
	err := s.do(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &e,
			`SELECT * FROM tournament_entries WHERE tournament_id=$1 AND user_id=$2`,
			tournamentID, userID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, entryID string) (*models.TournamentEntry, error) {
	var e models.TournamentEntry
	err := s.do(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &e, `SELECT * FROM tournament_entries WHERE id=$1`, entryID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, tournamentID, status string) ([]models.TournamentEntry, error) {
	query := `SELECT * FROM tournament_entries WHERE tournament_id=$1`
	args := []interface{}{tournamentID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	query += ` ORDER BY joined_at ASC`

	var out []models.TournamentEntry
	err := s.do(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &out, query, args...)
	})
	return out, err
}

func (s *PostgresStore) ListUserEntries(ctx context.Context, userID string) ([]models.TournamentEntry, error) {
	var out []models.TournamentEntry
	err := s.do(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &out,
			`SELECT * FROM tournament_entries WHERE user_id=$1 ORDER BY joined_at DESC`, userID)
	})
	return out, err
}

func (s *PostgresStore) MarkEntryRefunded(ctx context.Context, entryID string, from []string) (bool, error) {
	var flipped bool
	err := s.do(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tournament_entries SET status=$1 WHERE id=$2 AND status = ANY($3)`,
			models.EntryRefunded, entryID, pq.Array(from))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		flipped = n > 0
		return err
	})
	return flipped, err
}

func (s *PostgresStore) CompleteEntry(ctx context.Context, entryID string, at time.Time) error {
	return s.do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tournament_entries SET status=$1, completed_at=$2
			WHERE id=$3 AND status = ANY($4)
		`, models.EntryCompleted, at, entryID, pq.Array([]string{models.EntryPlaying, models.EntryCompleted}))
		return err
	})
}

func (s *PostgresStore) PromoteEntries(ctx context.Context, tournamentID, from, to string, at time.Time) (int, error) {
	// PLAYING stamps the start of play; terminal targets stamp completion
	col := "started_at"
	if to == models.EntryCompleted || to == models.EntryRefunded {
		col = "completed_at"
	}
	var n int64
	err := s.do(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE tournament_entries SET status=$1, %s=$2
			WHERE tournament_id=$3 AND status=$4
		`, col), to, at, tournamentID, from)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func (s *PostgresStore) SetEntryResult(ctx context.Context, tournamentID, userID string, rank int, prize decimal.NullDecimal) error {
	return s.do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tournament_entries SET final_rank=$1, prize_won=$2
			WHERE tournament_id=$3 AND user_id=$4
		`, rank, prize, tournamentID, userID)
		return err
	})
}

// ---- Scores ----

func (s *PostgresStore) UpsertScore(ctx context.Context, sc *models.GameScore) error {
	return s.do(ctx, func(ctx context.Context) error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO game_scores (
				id, tournament_id, user_id, game_id, score, metadata, signature, verified, submitted_at
			) VALUES (
				:id, :tournament_id, :user_id, :game_id, :score, :metadata, :signature, false, :submitted_at
			)
			ON CONFLICT (tournament_id, user_id) DO UPDATE SET
				score = EXCLUDED.score,
				metadata = EXCLUDED.metadata,
				signature = EXCLUDED.signature,
				verified = false,
				submitted_at = EXCLUDED.submitted_at
		`, sc)
		return err
	})
}

func (s *PostgresStore) ListScoresRanked(ctx context.Context, tournamentID string) ([]models.GameScore, error) {
	var out []models.GameScore
	err := s.do(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &out, `
			SELECT * FROM game_scores
			WHERE tournament_id=$1
			ORDER BY score DESC, submitted_at ASC
		`, tournamentID)
	})
	return out, err
}

// ---- Ledger ----

// CreateTransaction inserts a ledger row. A unique index over
// (type, reference_type, reference_id) backs idempotent settlement:
// inserting a second obligation for the same reference returns
// ErrDuplicateEntry and callers treat it as already recorded.
func (s *PostgresStore) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	err := s.do(ctx, func(ctx context.Context) error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO transactions (
				id, user_id, type, amount, currency, status,
				reference_type, reference_id, description, created_at
			) VALUES (
				:id, :user_id, :type, :amount, :currency, :status,
				:reference_type, :reference_id, :description, NOW()
			)
		`, tx)
		return err
	})
	if isUniqueViolation(err) {
		return ErrDuplicateEntry
	}
	return err
}

func (s *PostgresStore) HasTransaction(ctx context.Context, txType, referenceType, referenceID string) (bool, error) {
	var count int
	err := s.do(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &count, `
			SELECT COUNT(*) FROM transactions
			WHERE type=$1 AND reference_type=$2 AND reference_id=$3
		`, txType, referenceType, referenceID)
	})
	return count > 0, err
}
