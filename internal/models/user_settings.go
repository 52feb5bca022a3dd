package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultBotJoinMinutesBefore is used when a user has no settings row.
const DefaultBotJoinMinutesBefore = 2

// UserSettings holds per-user bot preferences.
type UserSettings struct {
	UserID               uuid.UUID `json:"user_id"`
	BotJoinMinutesBefore int       `json:"bot_join_minutes_before"`
	UpdatedAt            time.Time `json:"updated_at"`
}
