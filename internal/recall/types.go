package recall

import (
	"encoding/json"
	"time"
)

// Provider bot status codes as reported by the bot endpoint.
const (
	BotStatusScheduled = "scheduled"
	BotStatusJoining   = "joining"
	BotStatusRecording = "recording"
	BotStatusDone      = "done"
	BotStatusError     = "error"
)

// TranscriptStatusDone is the transcript status code once the download URL is usable.
const TranscriptStatusDone = "done"

// Validation is the structured result of checking provider configuration.
type Validation struct {
	IsValid bool   `json:"isValid"`
	Message string `json:"message"`
}

// StatusChange is one entry of a bot's status history.
type StatusChange struct {
	Code      string    `json:"code"`
	SubCode   string    `json:"sub_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Bot is the subset of the provider bot resource this service reads.
type Bot struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	StatusChanges []StatusChange  `json:"status_changes,omitempty"`
	MeetingURL    json.RawMessage `json:"meeting_url,omitempty"`
	JoinAt        string          `json:"join_at,omitempty"`
}

// CurrentStatus returns the top-level status, or the latest status change code when the
// provider omits it.
func (b *Bot) CurrentStatus() string {
	if b.Status != "" {
		return b.Status
	}
	if n := len(b.StatusChanges); n > 0 {
		return b.StatusChanges[n-1].Code
	}
	return ""
}

// BotTranscript is the simple transcript shape returned by the bot transcript endpoint.
type BotTranscript struct {
	Transcript string
}

// Recording is a provider recording attached to a bot.
type Recording struct {
	ID     string `json:"id"`
	Status struct {
		Code string `json:"code"`
	} `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// TranscriptInfo is the transcript metadata resource.
type TranscriptInfo struct {
	ID     string `json:"id"`
	Status struct {
		Code string `json:"code"`
	} `json:"status"`
	Data struct {
		DownloadURL string `json:"download_url"`
	} `json:"data"`
}

// StatusCode returns the transcript completion status code.
func (t *TranscriptInfo) StatusCode() string { return t.Status.Code }

// DownloadURL returns the raw payload location, empty until the transcript is done.
func (t *TranscriptInfo) DownloadURL() string { return t.Data.DownloadURL }

// Timestamp is a word boundary; Relative is seconds from the recording start.
type Timestamp struct {
	Relative float64 `json:"relative"`
	Absolute string  `json:"absolute,omitempty"`
}

// Word is a single timestamped token.
type Word struct {
	Text           string     `json:"text"`
	StartTimestamp *Timestamp `json:"start_timestamp,omitempty"`
	EndTimestamp   *Timestamp `json:"end_timestamp,omitempty"`
}

// ParticipantInfo identifies a speaker.
type ParticipantInfo struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	IsHost   bool   `json:"is_host"`
	Platform string `json:"platform,omitempty"`
}

// Participant is one speaker's ordered word stream.
type Participant struct {
	Participant *ParticipantInfo `json:"participant,omitempty"`
	Words       []Word           `json:"words"`
}
