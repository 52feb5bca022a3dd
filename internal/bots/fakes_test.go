package bots

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notetaker/backend/internal/models"
	"github.com/notetaker/backend/internal/recall"
	"github.com/notetaker/backend/pkg/queue"
)

var errBoom = errors.New("boom")

type fakeStore struct {
	mu       sync.Mutex
	meetings map[uuid.UUID]*models.Meeting
	writes   []string
	listErr  error
}

func newFakeStore(meetings ...*models.Meeting) *fakeStore {
	s := &fakeStore{meetings: make(map[uuid.UUID]*models.Meeting)}
	for _, m := range meetings {
		s.meetings[m.ID] = m
	}
	return s
}

func (s *fakeStore) get(id uuid.UUID) models.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.meetings[id]
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *fakeStore) record(op string) { s.writes = append(s.writes, op) }

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Meeting, error) {
	m, err := s.GetByID(ctx, id)
	if err != nil || m == nil || m.UserID != userID {
		return nil, err
	}
	return m, nil
}

func (s *fakeStore) FindByBotID(_ context.Context, botID string) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.meetings {
		if m.BotID == botID && botID != "" {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListActiveBots(_ context.Context, now time.Time) ([]models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Meeting
	for _, m := range s.meetings {
		if m.HasBot() && isActive(m.BotStatus) && !m.StartTime.After(now) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *fakeStore) ListDueForScheduling(_ context.Context, from, to time.Time) ([]models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Meeting
	for _, m := range s.meetings {
		if m.NotetakerEnabled && !m.HasBot() && m.MeetingURL != "" &&
			!m.StartTime.Before(from) && !m.StartTime.After(to) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *fakeStore) AssignBot(_ context.Context, id uuid.UUID, botID string, status models.BotStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.meetings[id]
	if m == nil || m.HasBot() {
		return false, nil
	}
	s.record("assign_bot")
	m.BotID, m.BotStatus = botID, status
	return true, nil
}

func (s *fakeStore) UpdateRecording(_ context.Context, id uuid.UUID, recordingID string, status models.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("update_recording")
	m := s.meetings[id]
	m.RecordingID, m.BotStatus = recordingID, status
	return nil
}

func (s *fakeStore) UpdateTranscriptJob(_ context.Context, id uuid.UUID, transcriptID string, status models.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("update_transcript_job")
	m := s.meetings[id]
	m.TranscriptID, m.BotStatus = transcriptID, status
	return nil
}

func (s *fakeStore) CompleteTranscript(_ context.Context, id uuid.UUID, transcriptID, raw string, sentences []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("complete_transcript")
	m := s.meetings[id]
	if transcriptID != "" {
		m.TranscriptID = transcriptID
	}
	m.Transcript, m.TranscriptSentences, m.BotStatus = raw, sentences, models.BotStatusCompleted
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, status models.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("update_status")
	s.meetings[id].BotStatus = status
	return nil
}

func (s *fakeStore) UpdatePollResult(_ context.Context, id uuid.UUID, status models.BotStatus, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("update_poll_result")
	m := s.meetings[id]
	m.BotStatus = status
	if transcript != "" {
		m.Transcript = transcript
	}
	return nil
}

type fakeProvider struct {
	mu          sync.Mutex
	createCalls int
	valid       bool

	createBot        func(meetingURL string, start time.Time, lead int) (string, error)
	botStatus        map[string]string
	botStatusErr     map[string]error
	botTranscript    string
	botTranscriptErr error
	recordings       []recall.Recording
	createTranscript func(recordingID string) (string, error)
	transcriptInfo   func(id string) (*recall.TranscriptInfo, error)
	download         func(url string) (recall.Payload, error)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		valid:        true,
		botStatus:    make(map[string]string),
		botStatusErr: make(map[string]error),
	}
}

func (p *fakeProvider) creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls
}

func (p *fakeProvider) ValidateConfiguration() recall.Validation {
	if p.valid {
		return recall.Validation{IsValid: true, Message: "Bot configuration is valid"}
	}
	return recall.ValidateConfiguration("")
}

func (p *fakeProvider) CreateBot(_ context.Context, meetingURL string, start time.Time, lead int) (string, error) {
	p.mu.Lock()
	p.createCalls++
	n := p.createCalls
	p.mu.Unlock()
	if p.createBot != nil {
		return p.createBot(meetingURL, start, lead)
	}
	return fmt.Sprintf("bot-new-%d", n), nil
}

func (p *fakeProvider) GetBotStatus(_ context.Context, botID string) (*recall.Bot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.botStatusErr[botID]; err != nil {
		return nil, &recall.ProviderError{Operation: "get_bot", Err: err}
	}
	return &recall.Bot{ID: botID, Status: p.botStatus[botID]}, nil
}

func (p *fakeProvider) GetBotTranscript(_ context.Context, _ string) (*recall.BotTranscript, error) {
	if p.botTranscriptErr != nil {
		return nil, p.botTranscriptErr
	}
	return &recall.BotTranscript{Transcript: p.botTranscript}, nil
}

func (p *fakeProvider) GetBotRecording(_ context.Context, _ string) ([]recall.Recording, error) {
	return p.recordings, nil
}

func (p *fakeProvider) CreateTranscript(_ context.Context, recordingID string) (string, error) {
	if p.createTranscript != nil {
		return p.createTranscript(recordingID)
	}
	return "tr-" + recordingID, nil
}

func (p *fakeProvider) GetTranscript(_ context.Context, id string) (*recall.TranscriptInfo, error) {
	if p.transcriptInfo != nil {
		return p.transcriptInfo(id)
	}
	return transcriptInfo(id, recall.TranscriptStatusDone, "https://files.example/"+id), nil
}

func (p *fakeProvider) DownloadTranscript(_ context.Context, url string) (recall.Payload, error) {
	if p.download != nil {
		return p.download(url)
	}
	return recall.ParsePayload([]byte(sampleTranscript)), nil
}

func transcriptInfo(id, code, url string) *recall.TranscriptInfo {
	info := &recall.TranscriptInfo{ID: id}
	info.Status.Code = code
	info.Data.DownloadURL = url
	return info
}

const sampleTranscript = `[{"participant":{"id":1,"name":"Ann"},"words":[` +
	`{"text":"Hello","start_timestamp":{"relative":0.0},"end_timestamp":{"relative":0.5}},` +
	`{"text":"there","start_timestamp":{"relative":0.6},"end_timestamp":{"relative":0.9}},` +
	`{"text":"Bye","start_timestamp":{"relative":3.0},"end_timestamp":{"relative":3.2}}]}]`

type fixedLeads struct {
	minutes int
	err     error
}

func (f fixedLeads) BotJoinMinutesBefore(context.Context, uuid.UUID) (int, error) {
	return f.minutes, f.err
}

type fakeJobs struct {
	mu      sync.Mutex
	creates []queue.TranscriptCreatePayload
	fetches []queue.TranscriptFetchPayload
}

func (j *fakeJobs) EnqueueTranscriptCreate(_ context.Context, p queue.TranscriptCreatePayload) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.creates = append(j.creates, p)
	return nil
}

func (j *fakeJobs) EnqueueTranscriptFetch(_ context.Context, p queue.TranscriptFetchPayload) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fetches = append(j.fetches, p)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	statuses []models.BotStatus
}

func (n *fakeNotifier) MeetingStatusChanged(_ context.Context, _ *models.Meeting, status models.BotStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, status)
}

type fakeArchiver struct {
	keys []string
	data [][]byte
}

func (a *fakeArchiver) ArchiveTranscript(_ context.Context, meetingID uuid.UUID, transcriptID string, data []byte) (string, error) {
	key := "transcripts/" + meetingID.String() + "/" + transcriptID + ".json"
	a.keys = append(a.keys, key)
	a.data = append(a.data, data)
	return key, nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(store Store, provider *fakeProvider) *Manager {
	m := NewManager(store, provider, fixedLeads{minutes: 2}, nil)
	m.now = func() time.Time { return testNow }
	return m
}

func upcomingMeeting(start time.Time) *models.Meeting {
	return &models.Meeting{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Title:            "Weekly sync",
		StartTime:        start,
		EndTime:          start.Add(time.Hour),
		MeetingURL:       "https://meet.google.com/abc-defg-hij",
		Platform:         models.PlatformMeet,
		NotetakerEnabled: true,
	}
}

func meetingWithBot(botID string, status models.BotStatus) *models.Meeting {
	m := upcomingMeeting(testNow.Add(-30 * time.Minute))
	m.BotID, m.BotStatus = botID, status
	return m
}

// failingStore fails transcript completion writes.
type failingStore struct {
	*fakeStore
}

func (s *failingStore) CompleteTranscript(context.Context, uuid.UUID, string, string, []string) error {
	return errBoom
}
