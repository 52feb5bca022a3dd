// Package bots drives the recording bot lifecycle: creating bots ahead of meetings, mirroring provider
// status onto meetings, and turning finished recordings into stored transcripts.
package bots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notetaker/backend/internal/metrics"
	"github.com/notetaker/backend/internal/models"
	"github.com/notetaker/backend/internal/recall"
	"github.com/notetaker/backend/internal/transcript"
	"github.com/notetaker/backend/pkg/queue"
)

var (
	// ErrTranscriptNotReady means the provider has not finished the transcript yet.
	ErrTranscriptNotReady = errors.New("transcript not ready")
	// ErrMeetingNotFound is returned by operations addressed by meeting id.
	ErrMeetingNotFound = errors.New("meeting not found")
	// ErrNoBot is returned when an operation needs a bot and the meeting has none.
	ErrNoBot = errors.New("no bot assigned to this meeting")
	// ErrNoRecording is returned when no provider recording can be found for a transcript retry.
	ErrNoRecording = errors.New("no recording available for this meeting")
)

// Store is the meeting record store.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	FindByBotID(ctx context.Context, botID string) (*models.Meeting, error)
	ListActiveBots(ctx context.Context, now time.Time) ([]models.Meeting, error)
	ListDueForScheduling(ctx context.Context, from, to time.Time) ([]models.Meeting, error)
	AssignBot(ctx context.Context, id uuid.UUID, botID string, status models.BotStatus) (bool, error)
	UpdateRecording(ctx context.Context, id uuid.UUID, recordingID string, status models.BotStatus) error
	UpdateTranscriptJob(ctx context.Context, id uuid.UUID, transcriptID string, status models.BotStatus) error
	CompleteTranscript(ctx context.Context, id uuid.UUID, transcriptID, raw string, sentences []string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.BotStatus) error
	UpdatePollResult(ctx context.Context, id uuid.UUID, status models.BotStatus, transcript string) error
}

// Provider is the transcription provider API.
type Provider interface {
	ValidateConfiguration() recall.Validation
	CreateBot(ctx context.Context, meetingURL string, meetingStart time.Time, joinLeadMinutes int) (string, error)
	GetBotStatus(ctx context.Context, botID string) (*recall.Bot, error)
	GetBotTranscript(ctx context.Context, botID string) (*recall.BotTranscript, error)
	GetBotRecording(ctx context.Context, botID string) ([]recall.Recording, error)
	CreateTranscript(ctx context.Context, recordingID string) (string, error)
	GetTranscript(ctx context.Context, transcriptID string) (*recall.TranscriptInfo, error)
	DownloadTranscript(ctx context.Context, downloadURL string) (recall.Payload, error)
}

// LeadTimeSource returns how many minutes before start a user's bots join.
type LeadTimeSource interface {
	BotJoinMinutesBefore(ctx context.Context, userID uuid.UUID) (int, error)
}

// Jobs enqueues background transcript work. Optional.
type Jobs interface {
	EnqueueTranscriptCreate(ctx context.Context, payload queue.TranscriptCreatePayload) error
	EnqueueTranscriptFetch(ctx context.Context, payload queue.TranscriptFetchPayload) error
}

// Notifier is told about every persisted status transition. Optional.
type Notifier interface {
	MeetingStatusChanged(ctx context.Context, meeting *models.Meeting, status models.BotStatus)
}

// Archiver keeps a copy of downloaded transcript payloads. Optional.
type Archiver interface {
	ArchiveTranscript(ctx context.Context, meetingID uuid.UUID, transcriptID string, data []byte) (string, error)
}

// ScheduleResult describes what scheduling did for one meeting.
type ScheduleResult string

const (
	ScheduleCreated        ScheduleResult = "created"
	ScheduleHasBot         ScheduleResult = "has_bot"
	ScheduleDisabled       ScheduleResult = "notetaker_disabled"
	ScheduleNoMeetingURL   ScheduleResult = "no_meeting_url"
	ScheduleJoinTimePassed ScheduleResult = "join_time_passed"
)

// ReconcileResult describes one poll reconciliation.
type ReconcileResult struct {
	MeetingID      uuid.UUID        `json:"meeting_id"`
	ProviderStatus string           `json:"provider_status"`
	Previous       models.BotStatus `json:"previous_status"`
	Status         models.BotStatus `json:"status"`
	Changed        bool             `json:"changed"`
}

// Manager applies bot lifecycle transitions to meetings. Webhook and poll work for the same bot is
// serialized; scheduling is serialized per meeting.
type Manager struct {
	store    Store
	provider Provider
	leads    LeadTimeSource
	jobs     Jobs
	notifier Notifier
	archiver Archiver
	metrics  *metrics.Metrics
	logger   *zap.Logger
	locks    *keyedMutex
	now      func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(store Store, provider Provider, leads LeadTimeSource, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		provider: provider,
		leads:    leads,
		logger:   logger,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// SetJobs sets the queue used to retry transcript creation and fetches.
func (m *Manager) SetJobs(j Jobs) { m.jobs = j }

// SetNotifier sets the status change notifier.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// SetArchiver sets the transcript archive.
func (m *Manager) SetArchiver(a Archiver) { m.archiver = a }

// SetMetrics sets the metrics sink.
func (m *Manager) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

// Validation reports whether the provider is configured.
func (m *Manager) Validation() recall.Validation { return m.provider.ValidateConfiguration() }

func (m *Manager) lockBot(botID string) func() { return m.locks.Lock("bot:" + botID) }

func (m *Manager) lockMeeting(id uuid.UUID) func() { return m.locks.Lock("meeting:" + id.String()) }

func (m *Manager) transitioned(ctx context.Context, meeting *models.Meeting, status models.BotStatus) {
	m.metrics.BotTransition(string(status))
	if m.notifier != nil {
		m.notifier.MeetingStatusChanged(ctx, meeting, status)
	}
}

// ScheduleMeeting creates a provider bot for a meeting when it has the notetaker enabled, no bot yet,
// a join URL, and a join time still in the future. A meeting that already has a bot is never given
// another one.
func (m *Manager) ScheduleMeeting(ctx context.Context, meetingID uuid.UUID) (ScheduleResult, error) {
	unlock := m.lockMeeting(meetingID)
	defer unlock()

	meeting, err := m.store.GetByID(ctx, meetingID)
	if err != nil {
		return "", fmt.Errorf("load meeting: %w", err)
	}
	if meeting == nil {
		return "", ErrMeetingNotFound
	}
	switch {
	case meeting.HasBot():
		return ScheduleHasBot, nil
	case !meeting.NotetakerEnabled:
		return ScheduleDisabled, nil
	case meeting.MeetingURL == "":
		return ScheduleNoMeetingURL, nil
	}

	lead, err := m.leads.BotJoinMinutesBefore(ctx, meeting.UserID)
	if err != nil {
		return "", fmt.Errorf("load join lead time: %w", err)
	}
	joinAt := recall.JoinAt(meeting.StartTime, lead)
	if !joinAt.After(m.now()) {
		return ScheduleJoinTimePassed, nil
	}

	botID, err := m.provider.CreateBot(ctx, meeting.MeetingURL, meeting.StartTime, lead)
	if err != nil {
		return "", fmt.Errorf("create bot: %w", err)
	}
	assigned, err := m.store.AssignBot(ctx, meeting.ID, botID, models.BotStatusScheduled)
	if err != nil {
		return "", fmt.Errorf("assign bot %s: %w", botID, err)
	}
	if !assigned {
		m.logger.Warn("meeting gained a bot concurrently, new bot left unassigned",
			zap.String("meeting_id", meeting.ID.String()), zap.String("bot_id", botID))
		return ScheduleHasBot, nil
	}

	meeting.BotID, meeting.BotStatus = botID, models.BotStatusScheduled
	m.transitioned(ctx, meeting, models.BotStatusScheduled)
	m.logger.Info("bot scheduled",
		zap.String("meeting_id", meeting.ID.String()),
		zap.String("bot_id", botID),
		zap.Time("join_at", joinAt),
	)
	return ScheduleCreated, nil
}

// HandleRecordingDone records a finished recording and requests its transcript. An unknown bot is
// logged and ignored. A failed transcript request leaves the meeting at recording_completed and is
// queued for retry when a job queue is configured.
func (m *Manager) HandleRecordingDone(ctx context.Context, botID, recordingID string) error {
	unlock := m.lockBot(botID)
	defer unlock()

	meeting, err := m.store.FindByBotID(ctx, botID)
	if err != nil {
		return fmt.Errorf("find meeting by bot: %w", err)
	}
	if meeting == nil {
		m.logger.Warn("recording.done for unknown bot", zap.String("bot_id", botID), zap.String("recording_id", recordingID))
		return nil
	}
	if meeting.RecordingID == recordingID && pastRecordingCompleted(meeting.BotStatus) {
		m.logger.Info("duplicate recording.done ignored",
			zap.String("meeting_id", meeting.ID.String()), zap.String("recording_id", recordingID))
		return nil
	}

	if err := m.store.UpdateRecording(ctx, meeting.ID, recordingID, models.BotStatusRecordingCompleted); err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	meeting.RecordingID, meeting.BotStatus = recordingID, models.BotStatusRecordingCompleted
	m.transitioned(ctx, meeting, models.BotStatusRecordingCompleted)

	if err := m.requestTranscript(ctx, meeting, recordingID); err != nil {
		m.logger.Error("create transcript failed",
			zap.Error(err), zap.String("meeting_id", meeting.ID.String()), zap.String("recording_id", recordingID))
		m.enqueueTranscriptCreate(ctx, meeting, recordingID)
	}
	return nil
}

func pastRecordingCompleted(s models.BotStatus) bool {
	switch s {
	case models.BotStatusTranscriptProcessing, models.BotStatusCompleted, models.BotStatusTranscriptFailed:
		return true
	}
	return false
}

func (m *Manager) requestTranscript(ctx context.Context, meeting *models.Meeting, recordingID string) error {
	transcriptID, err := m.provider.CreateTranscript(ctx, recordingID)
	if err != nil {
		return err
	}
	if err := m.store.UpdateTranscriptJob(ctx, meeting.ID, transcriptID, models.BotStatusTranscriptProcessing); err != nil {
		return fmt.Errorf("update transcript job: %w", err)
	}
	meeting.TranscriptID, meeting.BotStatus = transcriptID, models.BotStatusTranscriptProcessing
	m.transitioned(ctx, meeting, models.BotStatusTranscriptProcessing)
	m.logger.Info("transcript requested",
		zap.String("meeting_id", meeting.ID.String()),
		zap.String("recording_id", recordingID),
		zap.String("transcript_id", transcriptID),
	)
	return nil
}

func (m *Manager) enqueueTranscriptCreate(ctx context.Context, meeting *models.Meeting, recordingID string) {
	if m.jobs == nil {
		return
	}
	err := m.jobs.EnqueueTranscriptCreate(ctx, queue.TranscriptCreatePayload{
		MeetingID:   meeting.ID,
		BotID:       meeting.BotID,
		RecordingID: recordingID,
	})
	if err != nil {
		m.logger.Error("enqueue transcript create failed", zap.Error(err), zap.String("meeting_id", meeting.ID.String()))
	}
}

// RetryTranscript requests a transcript for a meeting whose recording finished but whose transcript
// was never created. The recording id is recovered from the provider when the meeting lacks one.
func (m *Manager) RetryTranscript(ctx context.Context, meetingID uuid.UUID) error {
	meeting, err := m.store.GetByID(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("load meeting: %w", err)
	}
	if meeting == nil {
		return ErrMeetingNotFound
	}
	if !meeting.HasBot() {
		return ErrNoBot
	}

	unlock := m.lockBot(meeting.BotID)
	defer unlock()

	if meeting, err = m.store.GetByID(ctx, meetingID); err != nil {
		return fmt.Errorf("reload meeting: %w", err)
	}
	if meeting == nil || !meeting.HasBot() {
		return ErrMeetingNotFound
	}
	switch {
	case meeting.BotStatus == models.BotStatusCompleted:
		return nil
	case meeting.BotStatus == models.BotStatusTranscriptProcessing && meeting.TranscriptID != "":
		return nil
	}

	recordingID := meeting.RecordingID
	if recordingID == "" {
		recs, err := m.provider.GetBotRecording(ctx, meeting.BotID)
		if err != nil {
			return fmt.Errorf("get bot recording: %w", err)
		}
		for _, r := range recs {
			if r.ID != "" {
				recordingID = r.ID
				break
			}
		}
		if recordingID == "" {
			return ErrNoRecording
		}
		if err := m.store.UpdateRecording(ctx, meeting.ID, recordingID, models.BotStatusRecordingCompleted); err != nil {
			return fmt.Errorf("update recording: %w", err)
		}
		meeting.RecordingID, meeting.BotStatus = recordingID, models.BotStatusRecordingCompleted
		m.transitioned(ctx, meeting, models.BotStatusRecordingCompleted)
	}
	return m.requestTranscript(ctx, meeting, recordingID)
}

// HandleTranscriptDone downloads a finished transcript, extracts sentences, and stores both. When the
// provider reports the transcript is not done yet nothing is written and a fetch job is queued. Download
// or parse failures mark the meeting transcript_failed.
func (m *Manager) HandleTranscriptDone(ctx context.Context, botID, transcriptID string) error {
	meeting, err := m.processTranscript(ctx, botID, transcriptID)
	if errors.Is(err, ErrTranscriptNotReady) {
		if m.jobs != nil && meeting != nil {
			if qErr := m.jobs.EnqueueTranscriptFetch(ctx, queue.TranscriptFetchPayload{
				MeetingID:    meeting.ID,
				BotID:        botID,
				TranscriptID: transcriptID,
			}); qErr != nil {
				m.logger.Error("enqueue transcript fetch failed", zap.Error(qErr), zap.String("meeting_id", meeting.ID.String()))
			}
		}
		return nil
	}
	return err
}

// RefreshTranscript re-runs transcript retrieval for a bot. Unlike HandleTranscriptDone it returns
// ErrTranscriptNotReady so a caller can retry.
func (m *Manager) RefreshTranscript(ctx context.Context, botID, transcriptID string) error {
	_, err := m.processTranscript(ctx, botID, transcriptID)
	return err
}

// processTranscript returns the meeting it worked on (nil if none matched) and ErrTranscriptNotReady
// or a store error. Provider and payload failures are absorbed into transcript_failed.
func (m *Manager) processTranscript(ctx context.Context, botID, transcriptID string) (*models.Meeting, error) {
	unlock := m.lockBot(botID)
	defer unlock()

	meeting, err := m.store.FindByBotID(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("find meeting by bot: %w", err)
	}
	if meeting == nil {
		m.logger.Warn("transcript for unknown bot", zap.String("bot_id", botID), zap.String("transcript_id", transcriptID))
		return nil, nil
	}
	if transcriptID == "" {
		transcriptID = meeting.TranscriptID
	}
	if transcriptID == "" {
		return meeting, fmt.Errorf("meeting %s has no transcript id", meeting.ID)
	}
	if meeting.BotStatus == models.BotStatusCompleted && meeting.TranscriptID == transcriptID &&
		meeting.Transcript != "" && len(meeting.TranscriptSentences) > 0 {
		m.logger.Info("transcript already stored", zap.String("meeting_id", meeting.ID.String()), zap.String("transcript_id", transcriptID))
		return meeting, nil
	}

	info, err := m.provider.GetTranscript(ctx, transcriptID)
	if err != nil {
		return meeting, m.failTranscript(ctx, meeting, transcriptID, err)
	}
	if info.StatusCode() != recall.TranscriptStatusDone {
		m.logger.Info("transcript not ready",
			zap.String("meeting_id", meeting.ID.String()),
			zap.String("transcript_id", transcriptID),
			zap.String("status", info.StatusCode()),
		)
		return meeting, ErrTranscriptNotReady
	}

	payload, err := m.provider.DownloadTranscript(ctx, info.DownloadURL())
	if err != nil {
		return meeting, m.failTranscript(ctx, meeting, transcriptID, err)
	}
	m.archive(ctx, meeting, transcriptID, payload)
	if !payload.Recognized() {
		return meeting, m.failTranscript(ctx, meeting, transcriptID, fmt.Errorf("unrecognized transcript payload"))
	}

	sentences := transcript.ExtractSentences(payload.Participants)
	if err := m.store.CompleteTranscript(ctx, meeting.ID, transcriptID, payload.String(), sentences); err != nil {
		return meeting, fmt.Errorf("store transcript: %w", err)
	}
	meeting.TranscriptID, meeting.BotStatus = transcriptID, models.BotStatusCompleted
	meeting.Transcript, meeting.TranscriptSentences = payload.String(), sentences
	m.transitioned(ctx, meeting, models.BotStatusCompleted)
	m.logger.Info("transcript stored",
		zap.String("meeting_id", meeting.ID.String()),
		zap.String("transcript_id", transcriptID),
		zap.String("payload_kind", string(payload.Kind)),
		zap.Int("sentences", len(sentences)),
	)
	return meeting, nil
}

func (m *Manager) failTranscript(ctx context.Context, meeting *models.Meeting, transcriptID string, cause error) error {
	m.logger.Error("transcript retrieval failed",
		zap.Error(cause),
		zap.String("meeting_id", meeting.ID.String()),
		zap.String("transcript_id", transcriptID),
	)
	if err := m.store.UpdateStatus(ctx, meeting.ID, models.BotStatusTranscriptFailed); err != nil {
		return fmt.Errorf("mark transcript failed: %w", err)
	}
	meeting.BotStatus = models.BotStatusTranscriptFailed
	m.transitioned(ctx, meeting, models.BotStatusTranscriptFailed)
	return nil
}

func (m *Manager) archive(ctx context.Context, meeting *models.Meeting, transcriptID string, payload recall.Payload) {
	if m.archiver == nil || len(payload.Data) == 0 {
		return
	}
	key, err := m.archiver.ArchiveTranscript(ctx, meeting.ID, transcriptID, payload.Data)
	if err != nil {
		m.logger.Warn("archive transcript failed", zap.Error(err), zap.String("meeting_id", meeting.ID.String()))
		return
	}
	m.logger.Debug("transcript archived", zap.String("meeting_id", meeting.ID.String()), zap.String("key", key))
}

// ReconcileMeeting mirrors the provider bot status onto a meeting right away, whatever its start time.
// Meetings in a terminal status are reported as they are.
func (m *Manager) ReconcileMeeting(ctx context.Context, meetingID uuid.UUID) (*ReconcileResult, error) {
	return m.reconcile(ctx, meetingID, false)
}

// reconcile re-reads the meeting under the bot lock so a webhook that already moved it on wins.
// With activeOnly set, meetings no longer in an active status are skipped.
func (m *Manager) reconcile(ctx context.Context, meetingID uuid.UUID, activeOnly bool) (*ReconcileResult, error) {
	meeting, err := m.store.GetByID(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("load meeting: %w", err)
	}
	if meeting == nil {
		return nil, ErrMeetingNotFound
	}
	if !meeting.HasBot() {
		return nil, ErrNoBot
	}

	unlock := m.lockBot(meeting.BotID)
	defer unlock()

	if meeting, err = m.store.GetByID(ctx, meetingID); err != nil {
		return nil, fmt.Errorf("reload meeting: %w", err)
	}
	if meeting == nil || !meeting.HasBot() {
		return nil, ErrNoBot
	}
	result := &ReconcileResult{MeetingID: meeting.ID, Previous: meeting.BotStatus, Status: meeting.BotStatus}
	if meeting.BotStatus.IsTerminal() || inTranscriptPipeline(meeting.BotStatus) ||
		(activeOnly && !isActive(meeting.BotStatus)) {
		return result, nil
	}

	bot, err := m.provider.GetBotStatus(ctx, meeting.BotID)
	if err != nil {
		return nil, fmt.Errorf("get bot status: %w", err)
	}
	result.ProviderStatus = bot.CurrentStatus()

	newStatus, newTranscript := meeting.BotStatus, meeting.Transcript
	switch result.ProviderStatus {
	case recall.BotStatusRecording:
		newStatus = models.BotStatusRecording
	case recall.BotStatusDone:
		newStatus = models.BotStatusCompleted
		tr, err := m.provider.GetBotTranscript(ctx, meeting.BotID)
		if err != nil {
			m.logger.Warn("get bot transcript failed", zap.Error(err), zap.String("meeting_id", meeting.ID.String()))
		} else if tr.Transcript != "" {
			newTranscript = tr.Transcript
		}
	case recall.BotStatusError:
		newStatus = models.BotStatusFailed
	}

	transcriptChanged := newTranscript != meeting.Transcript
	if newStatus == meeting.BotStatus && !transcriptChanged {
		return result, nil
	}
	if transcriptChanged {
		err = m.store.UpdatePollResult(ctx, meeting.ID, newStatus, newTranscript)
	} else {
		err = m.store.UpdateStatus(ctx, meeting.ID, newStatus)
	}
	if err != nil {
		return nil, fmt.Errorf("update meeting: %w", err)
	}

	result.Status, result.Changed = newStatus, true
	if newStatus != meeting.BotStatus {
		meeting.BotStatus = newStatus
		m.transitioned(ctx, meeting, newStatus)
	}
	m.logger.Info("bot status reconciled",
		zap.String("meeting_id", meeting.ID.String()),
		zap.String("bot_id", meeting.BotID),
		zap.String("previous_status", string(result.Previous)),
		zap.String("status", string(newStatus)),
	)
	return result, nil
}

// inTranscriptPipeline reports whether the recording and transcript webhooks own the meeting's status.
func inTranscriptPipeline(s models.BotStatus) bool {
	return s == models.BotStatusRecordingCompleted || s == models.BotStatusTranscriptProcessing
}

func isActive(s models.BotStatus) bool {
	for _, a := range models.ActiveBotStatuses {
		if s == a {
			return true
		}
	}
	return false
}
