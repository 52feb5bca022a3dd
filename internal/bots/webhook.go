package bots

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/notetaker/backend/internal/metrics"
	"github.com/notetaker/backend/pkg/response"
)

const (
	EventRecordingDone  = "recording.done"
	EventTranscriptDone = "transcript.done"

	maxWebhookBody = 1 << 20
)

// webhookEnvelope is the provider webhook body.
type webhookEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type idRef struct {
	ID string `json:"id"`
}

type recordingDoneData struct {
	Recording idRef `json:"recording"`
	Bot       idRef `json:"bot"`
}

type transcriptDoneData struct {
	Transcript idRef `json:"transcript"`
	Bot        idRef `json:"bot"`
}

// WebhookHandler receives provider webhooks and routes them to the Manager.
type WebhookHandler struct {
	manager *Manager
	secret  string
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewWebhookHandler creates a webhook handler. A non-empty secret enables signature verification.
func NewWebhookHandler(manager *Manager, secret string, m *metrics.Metrics, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{manager: manager, secret: secret, metrics: m, logger: logger, now: time.Now}
}

// Receive handles POST /webhooks/recall. Unknown events are acknowledged so the provider does not retry.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	if h.secret != "" {
		if err := VerifySignature(h.secret, c.Request.Header, body, h.now()); err != nil {
			h.logger.Warn("webhook signature rejected", zap.Error(err))
			h.metrics.WebhookEvent("unverified", metrics.OutcomeError)
			response.Unauthorized(c, "invalid webhook signature")
			return
		}
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Event == "" || isEmptyJSON(env.Data) {
		h.metrics.WebhookEvent("invalid", metrics.OutcomeError)
		response.BadRequest(c, "invalid payload")
		return
	}
	ctx := c.Request.Context()
	log := h.logger.With(zap.String("event", env.Event))

	switch env.Event {
	case EventRecordingDone:
		var d recordingDoneData
		if err := json.Unmarshal(env.Data, &d); err != nil || d.Bot.ID == "" || d.Recording.ID == "" {
			h.metrics.WebhookEvent(env.Event, metrics.OutcomeError)
			response.BadRequest(c, "data.bot.id and data.recording.id required")
			return
		}
		log.Info("recording done", zap.String("bot_id", d.Bot.ID), zap.String("recording_id", d.Recording.ID))
		err = h.manager.HandleRecordingDone(ctx, d.Bot.ID, d.Recording.ID)
	case EventTranscriptDone:
		var d transcriptDoneData
		if err := json.Unmarshal(env.Data, &d); err != nil || d.Bot.ID == "" || d.Transcript.ID == "" {
			h.metrics.WebhookEvent(env.Event, metrics.OutcomeError)
			response.BadRequest(c, "data.bot.id and data.transcript.id required")
			return
		}
		log.Info("transcript done", zap.String("bot_id", d.Bot.ID), zap.String("transcript_id", d.Transcript.ID))
		err = h.manager.HandleTranscriptDone(ctx, d.Bot.ID, d.Transcript.ID)
	default:
		log.Info("unhandled webhook event")
		h.metrics.WebhookEvent(env.Event, metrics.OutcomeSkipped)
		response.OK(c, gin.H{"event": env.Event, "handled": false})
		return
	}

	h.metrics.WebhookEvent(env.Event, outcomeOf(err))
	if err != nil {
		log.Error("webhook processing failed", zap.Error(err))
		response.Internal(c, "webhook processing failed")
		return
	}
	response.OK(c, gin.H{"event": env.Event, "handled": true})
}

// Status handles GET /webhooks/recall.
func (h *WebhookHandler) Status(c *gin.Context) {
	response.OK(c, gin.H{
		"message":   "Recall.ai webhook endpoint is active",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"verified":  h.secret != "",
	})
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := string(raw)
	return s == "" || s == "null"
}

func outcomeOf(err error) string {
	if err != nil {
		return metrics.OutcomeError
	}
	return metrics.OutcomeSuccess
}
