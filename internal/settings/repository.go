package settings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notetaker/backend/internal/models"
)

// Repository reads per-user bot settings.
type Repository struct {
	pool        *pgxpool.Pool
	defaultLead int
}

// NewRepository creates a settings repository. defaultLead is used for users without a settings row;
// values <= 0 fall back to models.DefaultBotJoinMinutesBefore.
func NewRepository(pool *pgxpool.Pool, defaultLead int) *Repository {
	if defaultLead <= 0 {
		defaultLead = models.DefaultBotJoinMinutesBefore
	}
	return &Repository{pool: pool, defaultLead: defaultLead}
}

// Get returns a user's settings, or nil if the user has none.
func (r *Repository) Get(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error) {
	const q = `SELECT user_id, bot_join_minutes_before, updated_at FROM user_settings WHERE user_id = $1`
	var s models.UserSettings
	err := r.pool.QueryRow(ctx, q, userID).Scan(&s.UserID, &s.BotJoinMinutesBefore, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// BotJoinMinutesBefore returns how many minutes before start a user's bots should join.
func (r *Repository) BotJoinMinutesBefore(ctx context.Context, userID uuid.UUID) (int, error) {
	s, err := r.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if s == nil || s.BotJoinMinutesBefore <= 0 {
		return r.defaultLead, nil
	}
	return s.BotJoinMinutesBefore, nil
}
