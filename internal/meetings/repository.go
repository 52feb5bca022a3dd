package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notetaker/backend/internal/models"
)

const meetingColumns = `id, user_id, title, COALESCE(description,''), start_time, end_time, COALESCE(meeting_url,''), platform,
	is_notetaker_enabled, COALESCE(recall_bot_id,''), COALESCE(recall_status,''), COALESCE(recall_recording_id,''),
	COALESCE(recall_transcript_id,''), COALESCE(transcript,''), COALESCE(transcript_sentences,''), created_at, updated_at`

// Repository handles meeting persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meetings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	var (
		m         models.Meeting
		status    string
		sentences string
	)
	err := row.Scan(&m.ID, &m.UserID, &m.Title, &m.Description, &m.StartTime, &m.EndTime, &m.MeetingURL, &m.Platform,
		&m.NotetakerEnabled, &m.BotID, &status, &m.RecordingID, &m.TranscriptID, &m.Transcript, &sentences, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.BotStatus = models.BotStatus(status)
	if sentences != "" {
		if err := json.Unmarshal([]byte(sentences), &m.TranscriptSentences); err != nil {
			return nil, fmt.Errorf("decode transcript_sentences for meeting %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func (r *Repository) queryOne(ctx context.Context, q string, args ...any) (*models.Meeting, error) {
	m, err := scanMeeting(r.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (r *Repository) queryList(ctx context.Context, q string, args ...any) ([]models.Meeting, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// GetByID returns a meeting, or nil if none exists.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	return r.queryOne(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)
}

// GetByIDForUser returns a meeting owned by userID, or nil.
func (r *Repository) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Meeting, error) {
	return r.queryOne(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1 AND user_id = $2`, id, userID)
}

// FindByBotID returns the meeting a provider bot was created for. A missing meeting is not an error:
// webhooks may reference bots whose meeting was deleted.
func (r *Repository) FindByBotID(ctx context.Context, botID string) (*models.Meeting, error) {
	return r.queryOne(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE recall_bot_id = $1`, botID)
}

// ListByUser returns a user's meetings ordered by start time.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Meeting, error) {
	return r.queryList(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE user_id = $1 ORDER BY start_time ASC`, userID)
}

// ListActiveBots returns meetings with a bot in an active status whose start time is at or before now.
func (r *Repository) ListActiveBots(ctx context.Context, now time.Time) ([]models.Meeting, error) {
	statuses := make([]string, len(models.ActiveBotStatuses))
	for i, s := range models.ActiveBotStatuses {
		statuses[i] = string(s)
	}
	const q = `SELECT ` + meetingColumns + ` FROM meetings
		WHERE recall_bot_id IS NOT NULL AND recall_status = ANY($1) AND start_time <= $2
		ORDER BY start_time ASC`
	return r.queryList(ctx, q, statuses, now)
}

// ListDueForScheduling returns notetaker-enabled meetings without a bot that have a join URL and start
// in [from, to].
func (r *Repository) ListDueForScheduling(ctx context.Context, from, to time.Time) ([]models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings
		WHERE is_notetaker_enabled = TRUE AND recall_bot_id IS NULL
		AND meeting_url IS NOT NULL AND meeting_url <> ''
		AND start_time >= $1 AND start_time <= $2
		ORDER BY start_time ASC`
	return r.queryList(ctx, q, from, to)
}

// AssignBot records a newly created bot. It only writes when the meeting has no bot yet and reports
// whether the row was updated.
func (r *Repository) AssignBot(ctx context.Context, id uuid.UUID, botID string, status models.BotStatus) (bool, error) {
	const q = `UPDATE meetings SET recall_bot_id = $1, recall_status = $2, updated_at = NOW()
		WHERE id = $3 AND recall_bot_id IS NULL`
	tag, err := r.pool.Exec(ctx, q, botID, string(status), id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateRecording sets the provider recording id and status.
func (r *Repository) UpdateRecording(ctx context.Context, id uuid.UUID, recordingID string, status models.BotStatus) error {
	const q = `UPDATE meetings SET recall_recording_id = NULLIF($1,''), recall_status = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, recordingID, string(status), id)
	return err
}

// UpdateTranscriptJob sets the provider transcript id and status.
func (r *Repository) UpdateTranscriptJob(ctx context.Context, id uuid.UUID, transcriptID string, status models.BotStatus) error {
	const q = `UPDATE meetings SET recall_transcript_id = NULLIF($1,''), recall_status = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, transcriptID, string(status), id)
	return err
}

// CompleteTranscript stores the raw payload and its sentences together and marks the meeting completed.
func (r *Repository) CompleteTranscript(ctx context.Context, id uuid.UUID, transcriptID, raw string, sentences []string) error {
	encoded, err := json.Marshal(sentences)
	if err != nil {
		return fmt.Errorf("encode sentences: %w", err)
	}
	const q = `UPDATE meetings SET recall_transcript_id = COALESCE(NULLIF($1,''), recall_transcript_id),
		transcript = $2, transcript_sentences = $3, recall_status = $4, updated_at = NOW() WHERE id = $5`
	_, err = r.pool.Exec(ctx, q, transcriptID, raw, string(encoded), string(models.BotStatusCompleted), id)
	return err
}

// UpdateStatus sets the bot status only.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.BotStatus) error {
	const q = `UPDATE meetings SET recall_status = $1, updated_at = NOW() WHERE id = $2 AND recall_bot_id IS NOT NULL`
	_, err := r.pool.Exec(ctx, q, string(status), id)
	return err
}

// UpdatePollResult sets the status and the simple transcript fetched while polling.
func (r *Repository) UpdatePollResult(ctx context.Context, id uuid.UUID, status models.BotStatus, transcript string) error {
	const q = `UPDATE meetings SET recall_status = $1, transcript = COALESCE(NULLIF($2,''), transcript), updated_at = NOW()
		WHERE id = $3 AND recall_bot_id IS NOT NULL`
	_, err := r.pool.Exec(ctx, q, string(status), transcript, id)
	return err
}

// SetNotetakerEnabled toggles the notetaker flag on a user's meeting and reports whether it exists.
func (r *Repository) SetNotetakerEnabled(ctx context.Context, id, userID uuid.UUID, enabled bool) (bool, error) {
	const q = `UPDATE meetings SET is_notetaker_enabled = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3`
	tag, err := r.pool.Exec(ctx, q, enabled, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DisableAllNotetakers turns the notetaker off for every meeting of a user and clears bot id and status
// together. It returns the number of meetings disabled and the number whose bot data was cleared.
func (r *Repository) DisableAllNotetakers(ctx context.Context, userID uuid.UUID) (disabled, cleaned int64, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE meetings SET is_notetaker_enabled = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND is_notetaker_enabled = TRUE`, userID)
	if err != nil {
		return 0, 0, err
	}
	disabled = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `UPDATE meetings SET recall_bot_id = NULL, recall_status = NULL, updated_at = NOW()
		WHERE user_id = $1 AND recall_bot_id IS NOT NULL`, userID)
	if err != nil {
		return 0, 0, err
	}
	cleaned = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return disabled, cleaned, nil
}

// CreateIfNotExists inserts a meeting unless one with the same user, title and start time exists.
// It reports whether a row was created.
func (r *Repository) CreateIfNotExists(ctx context.Context, m *models.Meeting) (bool, error) {
	const q = `INSERT INTO meetings (user_id, title, description, start_time, end_time, meeting_url, platform, is_notetaker_enabled)
		SELECT $1::uuid, $2::text, NULLIF($3::text,''), $4::timestamptz, $5::timestamptz, NULLIF($6::text,''), $7::text, $8::boolean
		WHERE NOT EXISTS (SELECT 1 FROM meetings WHERE user_id = $1 AND title = $2 AND start_time = $4)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, m.UserID, m.Title, m.Description, m.StartTime, m.EndTime, m.MeetingURL, m.Platform, m.NotetakerEnabled).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
