package models

import (
	"time"

	"github.com/google/uuid"
)

// GoogleAccount holds the OAuth tokens used to read a user's calendar.
type GoogleAccount struct {
	UserID       uuid.UUID `json:"user_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"expiry"`
}
