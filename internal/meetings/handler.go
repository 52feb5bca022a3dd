package meetings

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notetaker/backend/internal/bots"
	"github.com/notetaker/backend/internal/middleware"
	"github.com/notetaker/backend/internal/models"
	"github.com/notetaker/backend/pkg/response"
)

// Store is the subset of the meeting repository the API needs.
type Store interface {
	GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Meeting, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Meeting, error)
	SetNotetakerEnabled(ctx context.Context, id, userID uuid.UUID, enabled bool) (bool, error)
	DisableAllNotetakers(ctx context.Context, userID uuid.UUID) (disabled, cleaned int64, err error)
}

// BotScheduler creates a bot for one meeting.
type BotScheduler interface {
	ScheduleMeeting(ctx context.Context, meetingID uuid.UUID) (bots.ScheduleResult, error)
}

// TranscriptSigner returns a time-limited download URL for an archived transcript.
type TranscriptSigner interface {
	PresignTranscript(ctx context.Context, meetingID uuid.UUID, transcriptID string) (string, error)
}

// NotetakerRequest is the body for PATCH /meetings/:id/notetaker.
type NotetakerRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// Handler serves the dashboard meeting endpoints.
type Handler struct {
	store     Store
	scheduler BotScheduler
	signer    TranscriptSigner
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler creates a meetings handler. signer may be nil when no archive is configured.
func NewHandler(store Store, scheduler BotScheduler, signer TranscriptSigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, scheduler: scheduler, signer: signer, logger: logger, now: time.Now}
}

// List handles GET /meetings. Upcoming meetings have not started and are not completed; past meetings
// have started or are completed.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	all, err := h.store.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list meetings failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to list meetings")
		return
	}
	upcoming, past := Partition(all, h.now())
	response.OK(c, gin.H{"upcoming": upcoming, "past": past})
}

// Partition splits meetings into upcoming (ascending start) and past (descending start).
// A meeting is upcoming when it starts at or after now and is not completed.
func Partition(all []models.Meeting, now time.Time) (upcoming, past []models.Meeting) {
	upcoming, past = []models.Meeting{}, []models.Meeting{}
	for _, m := range all {
		completed := m.BotStatus == models.BotStatusCompleted
		if !m.StartTime.Before(now) && !completed {
			upcoming = append(upcoming, m)
		} else {
			past = append(past, m)
		}
	}
	// all arrives ordered by start ascending
	for i, j := 0, len(past)-1; i < j; i, j = i+1, j-1 {
		past[i], past[j] = past[j], past[i]
	}
	return upcoming, past
}

// Get handles GET /meetings/:id.
func (h *Handler) Get(c *gin.Context) {
	meeting, ok := h.owned(c)
	if !ok {
		return
	}
	response.OK(c, meeting)
}

// SetNotetaker handles PATCH /meetings/:id/notetaker. Enabling a meeting without a bot schedules one
// right away.
func (h *Handler) SetNotetaker(c *gin.Context) {
	var req NotetakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	meeting, ok := h.owned(c)
	if !ok {
		return
	}
	enabled := *req.Enabled
	ctx := c.Request.Context()
	if enabled && !meeting.HasBot() && meeting.MeetingURL == "" {
		response.BadRequest(c, "No meeting URL found")
		return
	}

	if _, err := h.store.SetNotetakerEnabled(ctx, meeting.ID, meeting.UserID, enabled); err != nil {
		h.logger.Error("set notetaker failed", zap.Error(err), zap.String("meeting_id", meeting.ID.String()))
		response.Internal(c, "failed to update meeting")
		return
	}
	out := gin.H{"meeting_id": meeting.ID, "enabled": enabled}
	if enabled && !meeting.HasBot() {
		res, err := h.scheduler.ScheduleMeeting(ctx, meeting.ID)
		if err != nil {
			h.logger.Error("create bot failed", zap.Error(err), zap.String("meeting_id", meeting.ID.String()))
			response.Internal(c, "Failed to create bot: "+err.Error())
			return
		}
		out["schedule"] = res
	}
	response.OK(c, out)
}

// DisableAll handles POST /meetings/disable-all-notetakers. Bot ids and statuses are cleared together.
func (h *Handler) DisableAll(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	disabled, cleaned, err := h.store.DisableAllNotetakers(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("disable notetakers failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "Failed to disable notetakers")
		return
	}
	h.logger.Info("notetakers disabled",
		zap.String("user_id", userID.String()), zap.Int64("disabled", disabled), zap.Int64("cleaned", cleaned))
	response.OK(c, gin.H{"disabled": disabled, "cleaned": cleaned})
}

// TranscriptURL handles GET /meetings/:id/transcript-url.
func (h *Handler) TranscriptURL(c *gin.Context) {
	meeting, ok := h.owned(c)
	if !ok {
		return
	}
	if h.signer == nil {
		response.ServiceUnavailable(c, "transcript archive not configured")
		return
	}
	if meeting.BotStatus != models.BotStatusCompleted || meeting.TranscriptID == "" {
		response.NotFound(c, "no archived transcript for this meeting")
		return
	}
	url, err := h.signer.PresignTranscript(c.Request.Context(), meeting.ID, meeting.TranscriptID)
	if err != nil {
		h.logger.Error("presign transcript failed", zap.Error(err), zap.String("meeting_id", meeting.ID.String()))
		response.Internal(c, "failed to sign transcript url")
		return
	}
	response.OK(c, gin.H{"url": url})
}

func (h *Handler) owned(c *gin.Context) (*models.Meeting, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return nil, false
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return nil, false
	}
	meeting, err := h.store.GetByIDForUser(c.Request.Context(), id, userID)
	if err != nil {
		h.logger.Error("load meeting failed", zap.Error(err), zap.String("meeting_id", id.String()))
		response.Internal(c, "failed to load meeting")
		return nil, false
	}
	if meeting == nil {
		response.NotFound(c, "Meeting not found")
		return nil, false
	}
	return meeting, true
}
