package tournament

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skillplay/backend/internal/jobs"
	"github.com/skillplay/backend/internal/matchmaking"
	"github.com/skillplay/backend/internal/models"
	"github.com/skillplay/backend/internal/store"
)

// Notifier pushes tournament events to connected clients. Calls are
// fire-and-forget; delivery failures never fail the operation.
type Notifier interface {
	NotifyStateChanged(tournamentID, status string)
	NotifyLeaderboardUpdated(tournamentID string)
}

// Config carries the service's tunable defaults.
type Config struct {
	DefaultMinPlayers         int
	DefaultPlatformFeePercent decimal.Decimal
	MatchCountdown            time.Duration
	MatchDuration             time.Duration
}

// Service owns the tournament lifecycle: creation, entry management,
// score intake and the scheduled start/end/refund transitions.
type Service struct {
	store      store.EntryStore
	dispatcher jobs.Dispatcher
	notifier   Notifier
	cfg        Config
	now        func() time.Time
}

func NewService(st store.EntryStore, d jobs.Dispatcher, n Notifier, cfg Config) *Service {
	if cfg.DefaultMinPlayers < 2 {
		cfg.DefaultMinPlayers = 2
	}
	return &Service{
		store:      st,
		dispatcher: d,
		notifier:   n,
		cfg:        cfg,
		now:        time.Now,
	}
}

// CreateInput is the request to create a scheduled tournament.
type CreateInput struct {
	GameID             string                   `json:"game_id"`
	Name               string                   `json:"name"`
	Description        string                   `json:"description"`
	Mode               string                   `json:"mode"`
	EntryFee           decimal.Decimal          `json:"entry_fee"`
	EntryCurrency      string                   `json:"entry_currency"`
	PrizePool          decimal.Decimal          `json:"prize_pool"`
	PrizeCurrency      string                   `json:"prize_currency"`
	MinPlayers         int                      `json:"min_players"`
	MaxPlayers         int                      `json:"max_players"`
	PrizeDistribution  models.PrizeDistribution `json:"prize_distribution"`
	ScheduledStart     time.Time                `json:"scheduled_start"`
	ScheduledEnd       *time.Time               `json:"scheduled_end,omitempty"`
	MatchDuration      int                      `json:"match_duration"`
	RoundsCount        int                      `json:"rounds_count"`
	PlatformFeePercent *decimal.Decimal         `json:"platform_fee_percent,omitempty"`
}

// Create validates the request, persists the tournament in SCHEDULED
// and schedules its start (and end, when bounded) transitions.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Tournament, error) {
	game, err := s.store.GetGame(ctx, in.GameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGameNotAvailable
		}
		return nil, err
	}
	if game.Status != "APPROVED" {
		return nil, ErrGameNotAvailable
	}
	switch in.Mode {
	case models.ModeSync:
		if !game.SupportsSync {
			return nil, ErrGameNotAvailable
		}
	case models.ModeAsync:
		if !game.SupportsAsync {
			return nil, ErrGameNotAvailable
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrValidation, in.Mode)
	}

	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.MinPlayers == 0 {
		in.MinPlayers = s.cfg.DefaultMinPlayers
	}
	if in.MinPlayers < 2 {
		return nil, fmt.Errorf("%w: min_players must be at least 2", ErrValidation)
	}
	if in.MaxPlayers < in.MinPlayers {
		return nil, fmt.Errorf("%w: max_players must be >= min_players", ErrValidation)
	}
	if in.EntryFee.IsNegative() || in.PrizePool.IsNegative() {
		return nil, fmt.Errorf("%w: amounts must not be negative", ErrValidation)
	}
	if err := in.PrizeDistribution.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := s.now()
	if !in.ScheduledStart.After(now) {
		return nil, fmt.Errorf("%w: scheduled_start must be in the future", ErrValidation)
	}
	if in.ScheduledEnd != nil && !in.ScheduledEnd.After(in.ScheduledStart) {
		return nil, fmt.Errorf("%w: scheduled_end must be after scheduled_start", ErrValidation)
	}

	feePct := s.cfg.DefaultPlatformFeePercent
	if in.PlatformFeePercent != nil {
		feePct = *in.PlatformFeePercent
	}
	if feePct.IsNegative() || feePct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: platform_fee_percent out of range", ErrValidation)
	}

	matchDuration := in.MatchDuration
	if matchDuration <= 0 {
		matchDuration = int(s.cfg.MatchDuration.Seconds())
	}
	rounds := in.RoundsCount
	if rounds <= 0 {
		rounds = 1
	}

	t := &models.Tournament{
		ID:                 newID("trn"),
		GameID:             in.GameID,
		Name:               in.Name,
		Description:        nullString(in.Description),
		Mode:               in.Mode,
		EntryFee:           in.EntryFee,
		EntryCurrency:      in.EntryCurrency,
		PrizePool:          in.PrizePool,
		PrizeCurrency:      in.PrizeCurrency,
		MinPlayers:         in.MinPlayers,
		MaxPlayers:         in.MaxPlayers,
		PrizeDistribution:  in.PrizeDistribution,
		ScheduledStart:     in.ScheduledStart,
		MatchDuration:      matchDuration,
		RoundsCount:        rounds,
		PlatformFeePercent: feePct,
		Status:             models.TournamentScheduled,
	}
	if in.ScheduledEnd != nil {
		t.ScheduledEnd = sql.NullTime{Time: *in.ScheduledEnd, Valid: true}
	}

	if err := s.store.CreateTournament(ctx, t); err != nil {
		return nil, err
	}

	s.scheduleLifecycle(ctx, t)

	log.Printf("[TOURNAMENT] Created %s (%s) game=%s mode=%s starts=%s",
		t.ID, t.Name, t.GameID, t.Mode, t.ScheduledStart.Format(time.RFC3339))
	return t, nil
}

// scheduleLifecycle enqueues the start and end jobs. Failures are
// logged, not returned: the tournament row exists and an operator can
// re-trigger scheduling, whereas failing the create would orphan it.
func (s *Service) scheduleLifecycle(ctx context.Context, t *models.Tournament) {
	now := s.now()
	if _, err := s.dispatcher.Enqueue(ctx, jobs.TypeStartTournament,
		StartPayload{TournamentID: t.ID}, t.ScheduledStart.Sub(now)); err != nil {
		log.Printf("[TOURNAMENT] Failed to schedule start for %s: %v", t.ID, err)
	}
	if t.ScheduledEnd.Valid {
		if _, err := s.dispatcher.Enqueue(ctx, jobs.TypeEndTournament,
			EndPayload{TournamentID: t.ID}, t.ScheduledEnd.Time.Sub(now)); err != nil {
			log.Printf("[TOURNAMENT] Failed to schedule end for %s: %v", t.ID, err)
		}
	}
}

// Get returns one tournament by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Tournament, error) {
	return s.store.GetTournament(ctx, id)
}

// List returns tournaments matching the filter.
func (s *Service) List(ctx context.Context, f store.TournamentFilter) ([]models.Tournament, error) {
	return s.store.ListTournaments(ctx, f)
}

// UserEntries returns a user's entries, newest first.
func (s *Service) UserEntries(ctx context.Context, userID string) ([]models.TournamentEntry, error) {
	return s.store.ListUserEntries(ctx, userID)
}

// Join registers the user for a tournament. With a payment hash the
// entry is CONFIRMED immediately; without one it stays PENDING until
// payment lands. The seat reservation is an atomic bounded counter
// increment, so concurrent joins can never oversubscribe.
func (s *Service) Join(ctx context.Context, tournamentID, userID, txHash string) (*models.TournamentEntry, error) {
	t, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if !t.AcceptingEntries() {
		return nil, store.ErrNotAccepting
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	if err := s.store.AddPlayer(ctx, tournamentID); err != nil {
		return nil, err
	}

	status := models.EntryPending
	if txHash != "" {
		status = models.EntryConfirmed
	}
	entry := &models.TournamentEntry{
		ID:            newID("ent"),
		TournamentID:  tournamentID,
		UserID:        userID,
		EntryAmount:   t.EntryFee,
		EntryCurrency: t.EntryCurrency,
		EntryTxHash:   nullString(txHash),
		Status:        status,
		JoinedAt:      s.now(),
	}
	if err := s.store.CreateEntry(ctx, entry); err != nil {
		// Release the reserved seat; the duplicate holder keeps theirs
		if rmErr := s.store.RemovePlayer(ctx, tournamentID); rmErr != nil {
			log.Printf("[TOURNAMENT] Failed to release seat on %s after entry error: %v", tournamentID, rmErr)
		}
		return nil, err
	}

	log.Printf("[TOURNAMENT] User %s joined %s (%s)", userID, tournamentID, status)
	return entry, nil
}

// Leave withdraws the user before start. The entry flips to REFUNDED;
// a paid entry additionally gets a refund obligation via the refund
// job. Idempotent: a second leave finds the entry already REFUNDED and
// does nothing.
func (s *Service) Leave(ctx context.Context, tournamentID, userID string) error {
	t, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return err
	}
	if !t.AcceptingEntries() {
		return store.ErrNotAccepting
	}

	entry, err := s.store.FindEntry(ctx, tournamentID, userID)
	if err != nil {
		return err
	}

	wasConfirmed := entry.Status == models.EntryConfirmed
	flipped, err := s.store.MarkEntryRefunded(ctx, entry.ID,
		[]string{models.EntryPending, models.EntryConfirmed})
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}

	if err := s.store.RemovePlayer(ctx, tournamentID); err != nil {
		log.Printf("[TOURNAMENT] Failed to release seat on %s after leave: %v", tournamentID, err)
	}

	if wasConfirmed {
		if _, err := s.dispatcher.Enqueue(ctx, jobs.TypeProcessRefund,
			RefundPayload{EntryID: entry.ID}, 0); err != nil {
			log.Printf("[TOURNAMENT] Failed to schedule refund for entry %s: %v", entry.ID, err)
		}
	}

	log.Printf("[TOURNAMENT] User %s left %s", userID, tournamentID)
	return nil
}

// SubmitScore records the authoritative score for the user's entry.
// Resubmission overwrites the previous score and refreshes the
// tie-break timestamp.
func (s *Service) SubmitScore(ctx context.Context, tournamentID, userID string, score int64, metadata json.RawMessage, signature string) error {
	t, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return err
	}
	if t.Status != models.TournamentInProgress {
		return ErrNotAuthorized
	}

	entry, err := s.store.FindEntry(ctx, tournamentID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotAuthorized
		}
		return err
	}
	if entry.Status != models.EntryPlaying && entry.Status != models.EntryCompleted {
		return ErrNotAuthorized
	}

	now := s.now()
	sc := &models.GameScore{
		ID:           newID("scr"),
		TournamentID: tournamentID,
		UserID:       userID,
		GameID:       t.GameID,
		Score:        score,
		Metadata:     metadata,
		Signature:    nullString(signature),
		SubmittedAt:  now,
	}
	if err := s.store.UpsertScore(ctx, sc); err != nil {
		return err
	}
	if err := s.store.CompleteEntry(ctx, entry.ID, now); err != nil {
		return err
	}

	if s.notifier != nil {
		s.notifier.NotifyLeaderboardUpdated(tournamentID)
	}
	return nil
}

// LeaderboardRow is one line of the live standings.
type LeaderboardRow struct {
	Rank        int       `json:"rank"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Score       int64     `json:"score"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Leaderboard returns current standings ordered best-first, ties going
// to the earlier submission.
func (s *Service) Leaderboard(ctx context.Context, tournamentID string) ([]LeaderboardRow, error) {
	if _, err := s.store.GetTournament(ctx, tournamentID); err != nil {
		return nil, err
	}
	scores, err := s.store.ListScoresRanked(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	rows := make([]LeaderboardRow, 0, len(scores))
	for i, sc := range scores {
		row := LeaderboardRow{
			Rank:        i + 1,
			UserID:      sc.UserID,
			Score:       sc.Score,
			SubmittedAt: sc.SubmittedAt,
		}
		if u, err := s.store.GetUser(ctx, sc.UserID); err == nil {
			row.Username = u.Username
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// BindMatch backs a formed matchmaking group with a tournament. The
// tournament is created exactly-sized with confirmed entries and its
// start/end transitions scheduled around the countdown.
func (s *Service) BindMatch(ctx context.Context, m matchmaking.MatchFormed) (string, error) {
	game, err := s.store.GetGame(ctx, m.GameID)
	if err != nil {
		return "", err
	}

	n := len(m.Players)
	if n == 0 {
		return "", fmt.Errorf("%w: match %s has no players", ErrValidation, m.MatchID)
	}
	fee := m.Players[0].EntryFee
	currency := m.Players[0].Currency
	if currency == "" {
		currency = "USDT"
	}

	end := m.StartsAt.Add(s.cfg.MatchDuration)
	t := &models.Tournament{
		ID:            newID("trn"),
		GameID:        m.GameID,
		Name:          fmt.Sprintf("%s Quick Match", game.Name),
		Mode:          m.Mode,
		EntryFee:      fee,
		EntryCurrency: currency,
		PrizePool:     fee.Mul(decimal.NewFromInt(int64(n))),
		PrizeCurrency: currency,
		MinPlayers:    n,
		MaxPlayers:    n,
		// Winner takes the pool in head-to-head quick matches
		PrizeDistribution:  models.PrizeDistribution{1: decimal.NewFromInt(100)},
		ScheduledStart:     m.StartsAt,
		ScheduledEnd:       sql.NullTime{Time: end, Valid: true},
		MatchDuration:      int(s.cfg.MatchDuration.Seconds()),
		RoundsCount:        1,
		PlatformFeePercent: s.cfg.DefaultPlatformFeePercent,
		Status:             models.TournamentScheduled,
	}
	if err := s.store.CreateTournament(ctx, t); err != nil {
		return "", err
	}

	now := s.now()
	for _, p := range m.Players {
		if err := s.store.AddPlayer(ctx, t.ID); err != nil {
			return "", err
		}
		entry := &models.TournamentEntry{
			ID:            newID("ent"),
			TournamentID:  t.ID,
			UserID:        p.UserID,
			EntryAmount:   fee,
			EntryCurrency: currency,
			Status:        models.EntryConfirmed,
			JoinedAt:      now,
		}
		if err := s.store.CreateEntry(ctx, entry); err != nil {
			return "", err
		}
	}

	s.scheduleLifecycle(ctx, t)

	log.Printf("[TOURNAMENT] Match %s bound to tournament %s (%d players)", m.MatchID, t.ID, n)
	return t.ID, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func newID(prefix string) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return prefix + "_" + hex.EncodeToString(b)
}
