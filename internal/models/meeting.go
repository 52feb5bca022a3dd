package models

import (
	"time"

	"github.com/google/uuid"
)

// BotStatus is the local mirror of the provider bot lifecycle, stored in meetings.recall_status.
type BotStatus string

const (
	BotStatusNone                 BotStatus = ""
	BotStatusPending              BotStatus = "pending"
	BotStatusScheduled            BotStatus = "scheduled"
	BotStatusRecording            BotStatus = "recording"
	BotStatusRecordingCompleted   BotStatus = "recording_completed"
	BotStatusTranscriptProcessing BotStatus = "transcript_processing"
	BotStatusCompleted            BotStatus = "completed"
	BotStatusTranscriptFailed     BotStatus = "transcript_failed"
	BotStatusFailed               BotStatus = "failed"
)

// ActiveBotStatuses are the statuses the poll pass reconciles against the provider.
var ActiveBotStatuses = []BotStatus{BotStatusScheduled, BotStatusRecording, BotStatusPending}

// IsTerminal reports whether no automatic transition leaves this status.
func (s BotStatus) IsTerminal() bool {
	switch s {
	case BotStatusCompleted, BotStatusTranscriptFailed, BotStatusFailed:
		return true
	}
	return false
}

// Platform tags derived from the join URL host.
const (
	PlatformZoom    = "zoom"
	PlatformTeams   = "teams"
	PlatformMeet    = "meet"
	PlatformWebex   = "webex"
	PlatformUnknown = "unknown"
)

// Meeting is a calendar meeting and the state of its recording bot.
// Empty strings stand for NULL columns; BotID and BotStatus are written together.
type Meeting struct {
	ID                  uuid.UUID `json:"id"`
	UserID              uuid.UUID `json:"user_id"`
	Title               string    `json:"title"`
	Description         string    `json:"description,omitempty"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	MeetingURL          string    `json:"meeting_url,omitempty"`
	Platform            string    `json:"platform"`
	NotetakerEnabled    bool      `json:"is_notetaker_enabled"`
	BotID               string    `json:"recall_bot_id,omitempty"`
	BotStatus           BotStatus `json:"recall_status,omitempty"`
	RecordingID         string    `json:"recall_recording_id,omitempty"`
	TranscriptID        string    `json:"recall_transcript_id,omitempty"`
	Transcript          string    `json:"transcript,omitempty"`
	TranscriptSentences []string  `json:"transcript_sentences,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// HasBot reports whether a provider bot has been created for the meeting.
func (m Meeting) HasBot() bool { return m.BotID != "" }
