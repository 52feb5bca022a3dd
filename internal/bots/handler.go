package bots

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notetaker/backend/internal/middleware"
	"github.com/notetaker/backend/internal/models"
	"github.com/notetaker/backend/pkg/response"
)

// MeetingLookup resolves a meeting owned by a user.
type MeetingLookup interface {
	GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Meeting, error)
}

// Handler serves the bot control endpoints.
type Handler struct {
	manager   *Manager
	scheduler *Scheduler
	meetings  MeetingLookup
	logger    *zap.Logger
}

// NewHandler creates a bots handler.
func NewHandler(manager *Manager, scheduler *Scheduler, meetings MeetingLookup, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, scheduler: scheduler, meetings: meetings, logger: logger}
}

// Config handles GET /bots/config.
func (h *Handler) Config(c *gin.Context) {
	v := h.manager.Validation()
	key := "missing"
	if v.IsValid {
		key = "set"
	}
	response.OK(c, gin.H{
		"botConfiguration":     v,
		"environmentVariables": gin.H{"RECALL_API_KEY": key},
		"schedulerRunning":     h.scheduler.Running(),
	})
}

// Init handles POST /bots/init. The scheduler outlives the request.
func (h *Handler) Init(c *gin.Context) {
	if h.scheduler.Start(context.WithoutCancel(c.Request.Context())) {
		response.OK(c, gin.H{"message": "Bot scheduler initialized successfully", "running": true})
		return
	}
	response.OK(c, gin.H{"message": "Bot scheduler already running", "running": true})
}

// Stop handles POST /bots/stop.
func (h *Handler) Stop(c *gin.Context) {
	if h.scheduler.Stop() {
		response.OK(c, gin.H{"message": "Bot scheduler stopped", "running": false})
		return
	}
	response.OK(c, gin.H{"message": "Bot scheduler was not running", "running": false})
}

// Poll handles POST /bots/poll: one poll pass and one scheduling pass, synchronously.
func (h *Handler) Poll(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	h.logger.Info("manual bot polling", zap.String("user_id", userID.String()))
	sum := h.scheduler.RunOnce(c.Request.Context())
	response.OK(c, gin.H{"message": "Bot polling completed", "summary": sum})
}

// ProcessTranscript handles POST /meetings/:id/process-transcript.
func (h *Handler) ProcessTranscript(c *gin.Context) {
	meeting, ok := h.ownedMeeting(c)
	if !ok {
		return
	}
	if !meeting.HasBot() {
		response.BadRequest(c, "No bot assigned to this meeting")
		return
	}
	res, err := h.manager.ReconcileMeeting(c.Request.Context(), meeting.ID)
	if err != nil {
		h.fail(c, meeting.ID, "process transcript", err)
		return
	}
	response.OK(c, res)
}

// RetryTranscript handles POST /meetings/:id/retry-transcript.
func (h *Handler) RetryTranscript(c *gin.Context) {
	meeting, ok := h.ownedMeeting(c)
	if !ok {
		return
	}
	if err := h.manager.RetryTranscript(c.Request.Context(), meeting.ID); err != nil {
		h.fail(c, meeting.ID, "retry transcript", err)
		return
	}
	updated, err := h.meetings.GetByIDForUser(c.Request.Context(), meeting.ID, meeting.UserID)
	if err != nil || updated == nil {
		response.OK(c, gin.H{"meeting_id": meeting.ID})
		return
	}
	response.OK(c, gin.H{"meeting_id": updated.ID, "status": updated.BotStatus, "transcript_id": updated.TranscriptID})
}

func (h *Handler) ownedMeeting(c *gin.Context) (*models.Meeting, bool) {
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
	meeting, err := h.meetings.GetByIDForUser(c.Request.Context(), id, userID)
	if err != nil {
		h.logger.Error("load meeting failed", zap.Error(err), zap.String("meeting_id", id.String()))
		response.Internal(c, "failed to load meeting")
		return nil, false
	}
	if meeting == nil {
		response.NotFound(c, "meeting not found")
		return nil, false
	}
	return meeting, true
}

func (h *Handler) fail(c *gin.Context, meetingID uuid.UUID, op string, err error) {
	switch {
	case errors.Is(err, ErrMeetingNotFound):
		response.NotFound(c, "meeting not found")
	case errors.Is(err, ErrNoBot), errors.Is(err, ErrNoRecording):
		response.BadRequest(c, err.Error())
	default:
		h.logger.Error(op+" failed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to "+op)
	}
}
