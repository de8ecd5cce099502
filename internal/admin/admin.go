package admin

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/skillplay/backend/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// GetAdminAccount retrieves an admin account by username
func GetAdminAccount(db *sqlx.DB, username string) (*models.AdminAccount, error) {
	var a models.AdminAccount
	err := db.Get(&a, `SELECT * FROM admin_accounts WHERE username=$1`, username)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// VerifyAdminToken checks if the provided token matches the stored hash
func VerifyAdminToken(hashedToken, plainToken string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedToken), []byte(plainToken)) == nil
}

// CreateAdminAccount creates or updates an admin account (used for seeding)
func CreateAdminAccount(db *sqlx.DB, username, displayName, plainToken, roles string) error {
	hashedToken, err := bcrypt.GenerateFromPassword([]byte(plainToken), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO admin_accounts (username, display_name, token_hash, roles, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (username) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			token_hash = EXCLUDED.token_hash,
			roles = EXCLUDED.roles
	`, username, displayName, string(hashedToken), roles)

	return err
}

// ValidateAdminCredentials validates username + token combination
func ValidateAdminCredentials(db *sqlx.DB, username, token string) (*models.AdminAccount, error) {
	a, err := GetAdminAccount(db, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("admin account not found")
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if !VerifyAdminToken(a.TokenHash, token) {
		return nil, fmt.Errorf("invalid token")
	}

	if _, err := db.Exec(`UPDATE admin_accounts SET last_login=NOW() WHERE id=$1`, a.ID); err != nil {
		return a, nil
	}
	return a, nil
}

// SeedGame registers a game in APPROVED state (used for seeding/dev)
func SeedGame(db *sqlx.DB, id, name, slug string, minPlayers, maxPlayers int, supportsSync, supportsAsync bool) error {
	_, err := db.Exec(`
		INSERT INTO games (id, name, slug, status, min_players, max_players, supports_sync, supports_async, created_at)
		VALUES ($1, $2, $3, 'APPROVED', $4, $5, $6, $7, NOW())
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			min_players = EXCLUDED.min_players,
			max_players = EXCLUDED.max_players,
			supports_sync = EXCLUDED.supports_sync,
			supports_async = EXCLUDED.supports_async
	`, id, name, slug, minPlayers, maxPlayers, supportsSync, supportsAsync)
	return err
}
