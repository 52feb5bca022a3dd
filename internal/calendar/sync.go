// Package calendar imports upcoming Google Calendar events as meetings.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/notetaker/backend/internal/models"
)

const (
	// DefaultSyncDays is how far ahead a sync looks.
	DefaultSyncDays = 7
	untitledMeeting = "Untitled Meeting"
)

var (
	// ErrNoAccount means the user has not linked a Google account.
	ErrNoAccount = errors.New("no google account linked")
	// ErrCalendarAccess means the calendar could not be read with the stored credentials.
	ErrCalendarAccess = errors.New("failed to fetch calendar events")
)

// AccountStore loads and refreshes a user's Google tokens.
type AccountStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.GoogleAccount, error)
	SaveToken(ctx context.Context, userID uuid.UUID, tok *oauth2.Token) error
}

// MeetingCreator inserts a meeting unless one with the same user, title and start exists.
type MeetingCreator interface {
	CreateIfNotExists(ctx context.Context, m *models.Meeting) (bool, error)
}

// EventSource lists calendar events with an OAuth token source.
type EventSource interface {
	ListEvents(ctx context.Context, ts oauth2.TokenSource, calendarID string, from, to time.Time) ([]*gcal.Event, error)
}

// Options configures a Service.
type Options struct {
	ClientID     string
	ClientSecret string
	CalendarID   string
	SyncDays     int
}

// SyncResult reports what a sync created.
type SyncResult struct {
	SyncedCount int              `json:"syncedCount"`
	Meetings    []models.Meeting `json:"meetings"`
}

// Service syncs a user's primary calendar into meetings.
type Service struct {
	accounts AccountStore
	meetings MeetingCreator
	events   EventSource
	oauth    *oauth2.Config
	calendar string
	days     int
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a calendar sync service backed by the Google Calendar API.
func NewService(accounts AccountStore, meetings MeetingCreator, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.SyncDays <= 0 {
		opts.SyncDays = DefaultSyncDays
	}
	return &Service{
		accounts: accounts,
		meetings: meetings,
		events:   googleEvents{},
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarReadonlyScope},
		},
		calendar: opts.CalendarID,
		days:     opts.SyncDays,
		logger:   logger,
		now:      time.Now,
	}
}

// Sync lists the user's events for the coming days and creates meetings for those not seen before.
// New meetings start with the notetaker disabled.
func (s *Service) Sync(ctx context.Context, userID uuid.UUID) (*SyncResult, error) {
	account, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load google account: %w", err)
	}
	if account == nil {
		return nil, ErrNoAccount
	}

	tok := Token(account)
	ts := oauth2.ReuseTokenSource(tok, s.oauth.TokenSource(ctx, tok))
	from := s.now()
	events, err := s.events.ListEvents(ctx, ts, s.calendar, from, from.AddDate(0, 0, s.days))
	if err != nil {
		s.logger.Warn("list calendar events failed", zap.Error(err), zap.String("user_id", userID.String()))
		return nil, fmt.Errorf("%w: %v", ErrCalendarAccess, err)
	}
	s.persistRefreshed(ctx, userID, tok, ts)

	result := &SyncResult{Meetings: []models.Meeting{}}
	for _, ev := range events {
		m, ok := EventToMeeting(userID, ev)
		if !ok {
			continue
		}
		created, err := s.meetings.CreateIfNotExists(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("create meeting %q: %w", m.Title, err)
		}
		if created {
			result.Meetings = append(result.Meetings, *m)
		}
	}
	result.SyncedCount = len(result.Meetings)
	s.logger.Info("calendar synced",
		zap.String("user_id", userID.String()), zap.Int("events", len(events)), zap.Int("created", result.SyncedCount))
	return result, nil
}

func (s *Service) persistRefreshed(ctx context.Context, userID uuid.UUID, old *oauth2.Token, ts oauth2.TokenSource) {
	current, err := ts.Token()
	if err != nil || current.AccessToken == old.AccessToken {
		return
	}
	if err := s.accounts.SaveToken(ctx, userID, current); err != nil {
		s.logger.Warn("save refreshed google token failed", zap.Error(err), zap.String("user_id", userID.String()))
	}
}

// EventToMeeting maps a calendar event to a new meeting. All-day events (no start dateTime) are skipped.
func EventToMeeting(userID uuid.UUID, ev *gcal.Event) (*models.Meeting, bool) {
	if ev == nil || ev.Start == nil || ev.Start.DateTime == "" {
		return nil, false
	}
	start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
	if err != nil {
		return nil, false
	}
	end := start
	if ev.End != nil && ev.End.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, ev.End.DateTime); err == nil {
			end = t
		}
	}
	title := ev.Summary
	if title == "" {
		title = untitledMeeting
	}
	url := ExtractMeetingURL(ev.Description, ev.Location, ev.HangoutLink)
	platform := models.PlatformUnknown
	if url != "" {
		platform = PlatformFromURL(url)
	}
	return &models.Meeting{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       title,
		Description: ev.Description,
		StartTime:   start,
		EndTime:     end,
		MeetingURL:  url,
		Platform:    platform,
	}, true
}

// googleEvents reads events through the Calendar v3 API.
type googleEvents struct{}

func (googleEvents) ListEvents(ctx context.Context, ts oauth2.TokenSource, calendarID string, from, to time.Time) ([]*gcal.Event, error) {
	svc, err := gcal.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	var events []*gcal.Event
	err = svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		ShowHiddenInvitations(false).
		OrderBy("startTime").
		Pages(ctx, func(page *gcal.Events) error {
			events = append(events, page.Items...)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return events, nil
}
