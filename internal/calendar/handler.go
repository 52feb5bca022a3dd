package calendar

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/notetaker/backend/internal/middleware"
	"github.com/notetaker/backend/pkg/response"
)

// Handler serves POST /meetings/sync.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a calendar sync handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// Sync handles POST /meetings/sync.
func (h *Handler) Sync(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	res, err := h.service.Sync(c.Request.Context(), userID)
	switch {
	case errors.Is(err, ErrNoAccount):
		response.Forbidden(c, "No Google account linked")
	case errors.Is(err, ErrCalendarAccess):
		response.Forbidden(c, "Failed to fetch calendar events. Please check your Google Calendar permissions.")
	case err != nil:
		h.logger.Error("calendar sync failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "calendar sync failed")
	default:
		response.OK(c, res)
	}
}
