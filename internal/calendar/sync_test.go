package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/notetaker/backend/internal/middleware"
	"github.com/notetaker/backend/internal/models"
)

type fakeAccounts struct {
	account *models.GoogleAccount
	saved   []*oauth2.Token
}

func (f *fakeAccounts) Get(context.Context, uuid.UUID) (*models.GoogleAccount, error) {
	return f.account, nil
}

func (f *fakeAccounts) SaveToken(_ context.Context, _ uuid.UUID, tok *oauth2.Token) error {
	f.saved = append(f.saved, tok)
	return nil
}

type key struct {
	user  uuid.UUID
	title string
	start time.Time
}

type fakeMeetings struct {
	seen map[key]bool
}

func (f *fakeMeetings) CreateIfNotExists(_ context.Context, m *models.Meeting) (bool, error) {
	k := key{m.UserID, m.Title, m.StartTime.UTC()}
	if f.seen[k] {
		return false, nil
	}
	f.seen[k] = true
	return true, nil
}

type fakeEvents struct {
	events []*gcal.Event
	err    error
	from   time.Time
	to     time.Time
	token  string
}

func (f *fakeEvents) ListEvents(_ context.Context, ts oauth2.TokenSource, _ string, from, to time.Time) ([]*gcal.Event, error) {
	f.from, f.to = from, to
	if tok, err := ts.Token(); err == nil {
		f.token = tok.AccessToken
	}
	return f.events, f.err
}

var syncNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(accounts *fakeAccounts, events *fakeEvents) (*Service, *fakeMeetings) {
	meetings := &fakeMeetings{seen: make(map[key]bool)}
	s := NewService(accounts, meetings, Options{ClientID: "id", ClientSecret: "secret"}, nil)
	s.events = events
	s.now = func() time.Time { return syncNow }
	return s, meetings
}

func linkedAccount() *fakeAccounts {
	return &fakeAccounts{account: &models.GoogleAccount{AccessToken: "access-1", RefreshToken: "refresh-1"}}
}

func event(summary, start, end string) *gcal.Event {
	ev := &gcal.Event{Summary: summary, Start: &gcal.EventDateTime{DateTime: start}}
	if end != "" {
		ev.End = &gcal.EventDateTime{DateTime: end}
	}
	return ev
}

func TestEventToMeeting(t *testing.T) {
	user := uuid.New()
	ev := event("", "2026-03-02T10:00:00Z", "")
	ev.Description = "Dial in https://zoom.us/j/998877"

	m, ok := EventToMeeting(user, ev)
	require.True(t, ok)
	assert.Equal(t, "Untitled Meeting", m.Title)
	assert.Equal(t, m.StartTime, m.EndTime)
	assert.Equal(t, "https://zoom.us/j/998877", m.MeetingURL)
	assert.Equal(t, models.PlatformZoom, m.Platform)
	assert.False(t, m.NotetakerEnabled)
	assert.False(t, m.HasBot())

	allDay := &gcal.Event{Summary: "Holiday", Start: &gcal.EventDateTime{Date: "2026-03-02"}}
	_, ok = EventToMeeting(user, allDay)
	assert.False(t, ok)

	noURL, ok := EventToMeeting(user, event("Lunch", "2026-03-02T12:00:00Z", "2026-03-02T13:00:00Z"))
	require.True(t, ok)
	assert.Empty(t, noURL.MeetingURL)
	assert.Equal(t, models.PlatformUnknown, noURL.Platform)
	assert.Equal(t, time.Hour, noURL.EndTime.Sub(noURL.StartTime))
}

func TestSync_CreatesUnseenMeetings(t *testing.T) {
	withLink := event("Planning", "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z")
	withLink.HangoutLink = "https://meet.google.com/abc-defg-hij"
	events := &fakeEvents{events: []*gcal.Event{
		withLink,
		event("Retro", "2026-03-03T15:00:00Z", "2026-03-03T16:00:00Z"),
		{Summary: "Offsite", Start: &gcal.EventDateTime{Date: "2026-03-04"}},
	}}
	accounts := linkedAccount()
	s, _ := newTestService(accounts, events)

	res, err := s.Sync(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 2, res.SyncedCount)
	assert.Equal(t, models.PlatformMeet, res.Meetings[0].Platform)
	assert.Equal(t, syncNow, events.from)
	assert.Equal(t, syncNow.AddDate(0, 0, 7), events.to)
	assert.Equal(t, "access-1", events.token)
	assert.Empty(t, accounts.saved)

	again, err := s.Sync(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 2, again.SyncedCount, "a different user gets their own meetings")
}

func TestSync_IsIdempotentPerUser(t *testing.T) {
	events := &fakeEvents{events: []*gcal.Event{event("Planning", "2026-03-02T10:00:00Z", "")}}
	s, _ := newTestService(linkedAccount(), events)
	user := uuid.New()

	first, err := s.Sync(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 1, first.SyncedCount)

	second, err := s.Sync(context.Background(), user)
	require.NoError(t, err)
	assert.Zero(t, second.SyncedCount)
	assert.NotNil(t, second.Meetings)
}

func TestSync_Errors(t *testing.T) {
	s, _ := newTestService(&fakeAccounts{}, &fakeEvents{})
	_, err := s.Sync(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNoAccount)

	s, _ = newTestService(linkedAccount(), &fakeEvents{err: errors.New("403 insufficient scopes")})
	_, err = s.Sync(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrCalendarAccess)
	assert.Contains(t, err.Error(), "insufficient scopes")
}

func TestHandler_Sync(t *testing.T) {
	gin.SetMode(gin.TestMode)
	user := uuid.New()
	route := func(s *Service) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(func(c *gin.Context) { c.Set(middleware.ContextUserID, user); c.Next() })
		r.POST("/meetings/sync", NewHandler(s, nil).Sync)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/meetings/sync", nil))
		return w
	}

	ok, _ := newTestService(linkedAccount(), &fakeEvents{events: []*gcal.Event{event("Planning", "2026-03-02T10:00:00Z", "")}})
	w := route(ok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"syncedCount":1`)

	denied, _ := newTestService(linkedAccount(), &fakeEvents{err: errors.New("denied")})
	assert.Equal(t, http.StatusForbidden, route(denied).Code)

	unlinked, _ := newTestService(&fakeAccounts{}, &fakeEvents{})
	assert.Equal(t, http.StatusForbidden, route(unlinked).Code)
}

func TestToken(t *testing.T) {
	tok := Token(&models.GoogleAccount{AccessToken: "a", RefreshToken: "r", Expiry: time.Unix(0, 0).UTC()})
	assert.True(t, tok.Expiry.IsZero())
	assert.True(t, tok.Valid())

	exp := syncNow.Add(time.Hour)
	tok = Token(&models.GoogleAccount{AccessToken: "a", Expiry: exp})
	assert.Equal(t, exp, tok.Expiry)
}
