package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notetaker/backend/internal/models"
)

// EventMeetingStatus is the event name for bot status transitions.
const EventMeetingStatus = "meeting_status"

// Publisher sends an event to every connection of a user. RedisPubSub and Hub both implement it.
type Publisher interface {
	PublishUserEvent(userID uuid.UUID, event string, payload []byte) error
}

// StatusEvent is the payload of a meeting_status event.
type StatusEvent struct {
	MeetingID    uuid.UUID        `json:"meeting_id"`
	Title        string           `json:"title"`
	BotID        string           `json:"recall_bot_id,omitempty"`
	Status       models.BotStatus `json:"recall_status"`
	TranscriptID string           `json:"recall_transcript_id,omitempty"`
	At           time.Time        `json:"at"`
}

// Notifier publishes bot status transitions to the meeting owner's channel. Publish failures are logged.
type Notifier struct {
	pub    Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewNotifier creates a status notifier.
func NewNotifier(pub Publisher, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{pub: pub, logger: logger, now: time.Now}
}

// MeetingStatusChanged publishes a meeting_status event.
func (n *Notifier) MeetingStatusChanged(_ context.Context, meeting *models.Meeting, status models.BotStatus) {
	body, err := json.Marshal(StatusEvent{
		MeetingID:    meeting.ID,
		Title:        meeting.Title,
		BotID:        meeting.BotID,
		Status:       status,
		TranscriptID: meeting.TranscriptID,
		At:           n.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := n.pub.PublishUserEvent(meeting.UserID, EventMeetingStatus, body); err != nil {
		n.logger.Warn("publish meeting status failed", zap.Error(err),
			zap.String("meeting_id", meeting.ID.String()), zap.String("status", string(status)))
	}
}
