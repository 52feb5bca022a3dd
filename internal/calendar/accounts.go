package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"

	"github.com/notetaker/backend/internal/models"
)

// AccountRepository stores the Google OAuth tokens used for calendar sync.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a Google account repository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Get returns a user's linked account, or nil if none is linked.
func (r *AccountRepository) Get(ctx context.Context, userID uuid.UUID) (*models.GoogleAccount, error) {
	const q = `SELECT user_id, access_token, COALESCE(refresh_token, ''), COALESCE(expiry, 'epoch'::timestamptz)
		FROM google_accounts WHERE user_id = $1`
	var a models.GoogleAccount
	err := r.pool.QueryRow(ctx, q, userID).Scan(&a.UserID, &a.AccessToken, &a.RefreshToken, &a.Expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// SaveToken upserts a user's tokens. An empty refresh token keeps the stored one, since Google only
// returns it on first consent.
func (r *AccountRepository) SaveToken(ctx context.Context, userID uuid.UUID, tok *oauth2.Token) error {
	const q = `INSERT INTO google_accounts (user_id, access_token, refresh_token, expiry, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(EXCLUDED.refresh_token, google_accounts.refresh_token),
			expiry = EXCLUDED.expiry,
			updated_at = NOW()`
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry
		expiry = &e
	}
	if _, err := r.pool.Exec(ctx, q, userID, tok.AccessToken, tok.RefreshToken, expiry); err != nil {
		return fmt.Errorf("save google token: %w", err)
	}
	return nil
}

// Token converts a stored account into an oauth2 token.
func Token(a *models.GoogleAccount) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: a.AccessToken, RefreshToken: a.RefreshToken, TokenType: "Bearer"}
	if a.Expiry.After(time.Unix(0, 0)) {
		tok.Expiry = a.Expiry
	}
	return tok
}
