package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Tournament statuses
const (
	TournamentScheduled  = "SCHEDULED"
	TournamentOpen       = "OPEN"
	TournamentInProgress = "IN_PROGRESS"
	TournamentCompleted  = "COMPLETED"
	TournamentCancelled  = "CANCELLED"
)

// Tournament modes
const (
	ModeSync  = "SYNCHRONOUS"
	ModeAsync = "ASYNCHRONOUS"
)

// Entry statuses
const (
	EntryPending   = "PENDING"
	EntryConfirmed = "CONFIRMED"
	EntryPlaying   = "PLAYING"
	EntryCompleted = "COMPLETED"
	EntryRefunded  = "REFUNDED"
)

// Ledger transaction types and statuses
const (
	TxRefund          = "REFUND"
	TxPrizeWin        = "PRIZE_WIN"
	TxDeveloperPayout = "DEVELOPER_PAYOUT"

	TxPending    = "PENDING"
	TxProcessing = "PROCESSING"
	TxCompleted  = "COMPLETED"
	TxFailed     = "FAILED"
)

// User represents a registered player
type User struct {
	ID            string          `db:"id" json:"id"`
	Username      string          `db:"username" json:"username"`
	DisplayName   sql.NullString  `db:"display_name" json:"display_name,omitempty"`
	AvatarURL     sql.NullString  `db:"avatar_url" json:"avatar_url,omitempty"`
	Status        string          `db:"status" json:"status"`
	TotalMatches  int             `db:"total_matches" json:"total_matches"`
	TotalWins     int             `db:"total_wins" json:"total_wins"`
	TotalEarnings decimal.Decimal `db:"total_earnings" json:"total_earnings"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Game represents a hosted game eligible for tournaments
type Game struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Slug          string    `db:"slug" json:"slug"`
	IconURL       sql.NullString `db:"icon_url" json:"icon_url,omitempty"`
	Status        string    `db:"status" json:"status"`
	MinPlayers    int       `db:"min_players" json:"min_players"`
	MaxPlayers    int       `db:"max_players" json:"max_players"`
	SupportsSync  bool      `db:"supports_sync" json:"supports_sync"`
	SupportsAsync bool      `db:"supports_async" json:"supports_async"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Tournament is the aggregate driven through the lifecycle state machine.
// Status is written only by the tournament service; current_players is
// mutated exclusively through atomic store-side counter updates.
type Tournament struct {
	ID                 string            `db:"id" json:"id"`
	GameID             string            `db:"game_id" json:"game_id"`
	Name               string            `db:"name" json:"name"`
	Description        sql.NullString    `db:"description" json:"description,omitempty"`
	Mode               string            `db:"mode" json:"mode"`
	EntryFee           decimal.Decimal   `db:"entry_fee" json:"entry_fee"`
	EntryCurrency      string            `db:"entry_currency" json:"entry_currency"`
	PrizePool          decimal.Decimal   `db:"prize_pool" json:"prize_pool"`
	PrizeCurrency      string            `db:"prize_currency" json:"prize_currency"`
	MinPlayers         int               `db:"min_players" json:"min_players"`
	MaxPlayers         int               `db:"max_players" json:"max_players"`
	CurrentPlayers     int               `db:"current_players" json:"current_players"`
	PrizeDistribution  PrizeDistribution `db:"prize_distribution" json:"prize_distribution"`
	ScheduledStart     time.Time         `db:"scheduled_start" json:"scheduled_start"`
	ScheduledEnd       sql.NullTime      `db:"scheduled_end" json:"scheduled_end,omitempty"`
	ActualStart        sql.NullTime      `db:"actual_start" json:"actual_start,omitempty"`
	ActualEnd          sql.NullTime      `db:"actual_end" json:"actual_end,omitempty"`
	MatchDuration      int               `db:"match_duration" json:"match_duration"`
	RoundsCount        int               `db:"rounds_count" json:"rounds_count"`
	PlatformFeePercent decimal.Decimal   `db:"platform_fee_percent" json:"platform_fee_percent"`
	PlatformFeeAmount  decimal.NullDecimal `db:"platform_fee_amount" json:"platform_fee_amount,omitempty"`
	Status             string            `db:"status" json:"status"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
}

// AcceptingEntries reports whether players may join or leave.
func (t *Tournament) AcceptingEntries() bool {
	return t.Status == TournamentScheduled || t.Status == TournamentOpen
}

// TournamentEntry is one player's participation record. Rows are never
// deleted; refunds and cancellations flip status only, preserving the
// settlement audit trail.
type TournamentEntry struct {
	ID            string              `db:"id" json:"id"`
	TournamentID  string              `db:"tournament_id" json:"tournament_id"`
	UserID        string              `db:"user_id" json:"user_id"`
	EntryAmount   decimal.Decimal     `db:"entry_amount" json:"entry_amount"`
	EntryCurrency string              `db:"entry_currency" json:"entry_currency"`
	EntryTxHash   sql.NullString      `db:"entry_tx_hash" json:"entry_tx_hash,omitempty"`
	Status        string              `db:"status" json:"status"`
	FinalRank     sql.NullInt64       `db:"final_rank" json:"final_rank,omitempty"`
	PrizeWon      decimal.NullDecimal `db:"prize_won" json:"prize_won,omitempty"`
	JoinedAt      time.Time           `db:"joined_at" json:"joined_at"`
	StartedAt     sql.NullTime        `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   sql.NullTime        `db:"completed_at" json:"completed_at,omitempty"`
}

// GameScore is the single authoritative score per (tournament, user).
// Resubmissions overwrite in place.
type GameScore struct {
	ID           string         `db:"id" json:"id"`
	TournamentID string         `db:"tournament_id" json:"tournament_id"`
	UserID       string         `db:"user_id" json:"user_id"`
	GameID       string         `db:"game_id" json:"game_id"`
	Score        int64          `db:"score" json:"score"`
	Metadata     []byte         `db:"metadata" json:"metadata,omitempty"`
	Signature    sql.NullString `db:"signature" json:"signature,omitempty"`
	Verified     bool           `db:"verified" json:"verified"`
	SubmittedAt  time.Time      `db:"submitted_at" json:"submitted_at"`
}

// Transaction is a durable monetary obligation (ledger entry). Rows are
// created PENDING by the settlement/refund path and completed by the
// external payment worker.
type Transaction struct {
	ID            string          `db:"id" json:"id"`
	UserID        string          `db:"user_id" json:"user_id"`
	Type          string          `db:"type" json:"type"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Currency      string          `db:"currency" json:"currency"`
	Status        string          `db:"status" json:"status"`
	ReferenceType sql.NullString  `db:"reference_type" json:"reference_type,omitempty"`
	ReferenceID   sql.NullString  `db:"reference_id" json:"reference_id,omitempty"`
	Description   sql.NullString  `db:"description" json:"description,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	CompletedAt   sql.NullTime    `db:"completed_at" json:"completed_at,omitempty"`
}

// AdminAccount is an operator account with a bcrypt-hashed token
type AdminAccount struct {
	ID          int            `db:"id" json:"id"`
	Username    string         `db:"username" json:"username"`
	DisplayName string         `db:"display_name" json:"display_name"`
	TokenHash   string         `db:"token_hash" json:"-"`
	Roles       string         `db:"roles" json:"roles"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	LastLogin   sql.NullTime   `db:"last_login" json:"last_login,omitempty"`
}
