package bots

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notetaker/backend/internal/models"
	"github.com/notetaker/backend/internal/recall"
)

func TestScheduleMeeting_CreatesBot(t *testing.T) {
	meeting := upcomingMeeting(testNow.Add(time.Hour))
	store, provider := newFakeStore(meeting), newFakeProvider()
	var gotLead int
	var gotStart time.Time
	provider.createBot = func(_ string, start time.Time, lead int) (string, error) {
		gotStart, gotLead = start, lead
		return "bot-1", nil
	}
	notifier := &fakeNotifier{}
	m := newTestManager(store, provider)
	m.SetNotifier(notifier)

	res, err := m.ScheduleMeeting(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleCreated, res)
	assert.Equal(t, 2, gotLead)
	assert.Equal(t, meeting.StartTime, gotStart)

	got := store.get(meeting.ID)
	assert.Equal(t, "bot-1", got.BotID)
	assert.Equal(t, models.BotStatusScheduled, got.BotStatus)
	assert.Equal(t, []models.BotStatus{models.BotStatusScheduled}, notifier.statuses)
}

func TestScheduleMeeting_Skips(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *models.Meeting)
		want   ScheduleResult
	}{
		{"notetaker disabled", func(m *models.Meeting) { m.NotetakerEnabled = false }, ScheduleDisabled},
		{"no join url", func(m *models.Meeting) { m.MeetingURL = "" }, ScheduleNoMeetingURL},
		{"already has bot", func(m *models.Meeting) { m.BotID, m.BotStatus = "bot-old", models.BotStatusScheduled }, ScheduleHasBot},
		{"join time passed", func(m *models.Meeting) { m.StartTime = testNow.Add(time.Minute) }, ScheduleJoinTimePassed},
		{"join time exactly now", func(m *models.Meeting) { m.StartTime = testNow.Add(2 * time.Minute) }, ScheduleJoinTimePassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meeting := upcomingMeeting(testNow.Add(time.Hour))
			tt.mutate(meeting)
			store, provider := newFakeStore(meeting), newFakeProvider()

			res, err := newTestManager(store, provider).ScheduleMeeting(context.Background(), meeting.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
			assert.Zero(t, provider.creates())
			assert.Zero(t, store.writeCount())
		})
	}
}

func TestScheduleMeeting_UsesUserLeadTime(t *testing.T) {
	meeting := upcomingMeeting(testNow.Add(10 * time.Minute))
	store, provider := newFakeStore(meeting), newFakeProvider()
	m := NewManager(store, provider, fixedLeads{minutes: 15}, nil)
	m.now = func() time.Time { return testNow }

	res, err := m.ScheduleMeeting(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleJoinTimePassed, res)
}

func TestScheduleMeeting_ProviderErrorLeavesMeetingUntouched(t *testing.T) {
	meeting := upcomingMeeting(testNow.Add(time.Hour))
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.createBot = func(string, time.Time, int) (string, error) {
		return "", &recall.ProviderError{Operation: "create_bot", StatusCode: 400, Message: "bad url"}
	}

	_, err := newTestManager(store, provider).ScheduleMeeting(context.Background(), meeting.ID)
	require.Error(t, err)
	assert.True(t, recall.IsProviderError(err))
	assert.Zero(t, store.writeCount())
	assert.False(t, store.get(meeting.ID).HasBot())
}

func TestScheduleMeeting_ConcurrentCallsCreateOneBot(t *testing.T) {
	meeting := upcomingMeeting(testNow.Add(time.Hour))
	store, provider := newFakeStore(meeting), newFakeProvider()
	m := newTestManager(store, provider)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.ScheduleMeeting(context.Background(), meeting.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, provider.creates())
}

func TestScheduleMeeting_UnknownMeeting(t *testing.T) {
	_, err := newTestManager(newFakeStore(), newFakeProvider()).ScheduleMeeting(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrMeetingNotFound)
}

func TestHandleRecordingDone_RequestsTranscript(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusRecording)
	store, provider := newFakeStore(meeting), newFakeProvider()
	notifier := &fakeNotifier{}
	m := newTestManager(store, provider)
	m.SetNotifier(notifier)

	require.NoError(t, m.HandleRecordingDone(context.Background(), "bot-1", "rec-1"))

	got := store.get(meeting.ID)
	assert.Equal(t, "rec-1", got.RecordingID)
	assert.Equal(t, "tr-rec-1", got.TranscriptID)
	assert.Equal(t, models.BotStatusTranscriptProcessing, got.BotStatus)
	assert.Equal(t, []models.BotStatus{models.BotStatusRecordingCompleted, models.BotStatusTranscriptProcessing}, notifier.statuses)
}

func TestHandleRecordingDone_UnknownBotWritesNothing(t *testing.T) {
	store := newFakeStore(meetingWithBot("bot-1", models.BotStatusRecording))
	err := newTestManager(store, newFakeProvider()).HandleRecordingDone(context.Background(), "bot-unknown", "rec-1")
	require.NoError(t, err)
	assert.Zero(t, store.writeCount())
}

func TestHandleRecordingDone_TranscriptFailureKeepsRecordingCompleted(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusRecording)
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.createTranscript = func(string) (string, error) { return "", errBoom }
	jobs := &fakeJobs{}
	m := newTestManager(store, provider)
	m.SetJobs(jobs)

	require.NoError(t, m.HandleRecordingDone(context.Background(), "bot-1", "rec-1"))

	got := store.get(meeting.ID)
	assert.Equal(t, models.BotStatusRecordingCompleted, got.BotStatus)
	assert.Equal(t, "rec-1", got.RecordingID)
	require.Len(t, jobs.creates, 1)
	assert.Equal(t, meeting.ID, jobs.creates[0].MeetingID)
	assert.Equal(t, "rec-1", jobs.creates[0].RecordingID)
}

func TestHandleRecordingDone_DuplicateIsNoop(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusTranscriptProcessing)
	meeting.RecordingID, meeting.TranscriptID = "rec-1", "tr-rec-1"
	store := newFakeStore(meeting)

	require.NoError(t, newTestManager(store, newFakeProvider()).HandleRecordingDone(context.Background(), "bot-1", "rec-1"))
	assert.Zero(t, store.writeCount())
}

func TestHandleTranscriptDone_StoresSentences(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusTranscriptProcessing)
	store, provider := newFakeStore(meeting), newFakeProvider()
	archiver := &fakeArchiver{}
	m := newTestManager(store, provider)
	m.SetArchiver(archiver)

	require.NoError(t, m.HandleTranscriptDone(context.Background(), "bot-1", "tr-1"))

	got := store.get(meeting.ID)
	assert.Equal(t, models.BotStatusCompleted, got.BotStatus)
	assert.Equal(t, "tr-1", got.TranscriptID)
	assert.Equal(t, []string{"Hello there", "Bye"}, got.TranscriptSentences)
	assert.JSONEq(t, sampleTranscript, got.Transcript)
	require.Len(t, archiver.keys, 1)
	assert.Contains(t, archiver.keys[0], meeting.ID.String())
}

func TestHandleTranscriptDone_NotReadyIsNoop(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusTranscriptProcessing)
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.transcriptInfo = func(id string) (*recall.TranscriptInfo, error) {
		return transcriptInfo(id, "processing", ""), nil
	}
	jobs := &fakeJobs{}
	m := newTestManager(store, provider)
	m.SetJobs(jobs)

	require.NoError(t, m.HandleTranscriptDone(context.Background(), "bot-1", "tr-1"))
	assert.Zero(t, store.writeCount())
	assert.Equal(t, *meeting, store.get(meeting.ID))
	require.Len(t, jobs.fetches, 1)
	assert.Equal(t, "tr-1", jobs.fetches[0].TranscriptID)
}

func TestHandleTranscriptDone_DownloadFailureMarksFailed(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusTranscriptProcessing)
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.download = func(string) (recall.Payload, error) { return recall.Payload{}, errBoom }

	require.NoError(t, newTestManager(store, provider).HandleTranscriptDone(context.Background(), "bot-1", "tr-1"))
	got := store.get(meeting.ID)
	assert.Equal(t, models.BotStatusTranscriptFailed, got.BotStatus)
	assert.Empty(t, got.Transcript)
}

func TestHandleTranscriptDone_UnrecognizedPayloadMarksFailedAndArchives(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusTranscriptProcessing)
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.download = func(string) (recall.Payload, error) {
		return recall.ParsePayload([]byte(`{"segments":[]}`)), nil
	}
	archiver := &fakeArchiver{}
	m := newTestManager(store, provider)
	m.SetArchiver(archiver)

	require.NoError(t, m.HandleTranscriptDone(context.Background(), "bot-1", "tr-1"))
	assert.Equal(t, models.BotStatusTranscriptFailed, store.get(meeting.ID).BotStatus)
	require.Len(t, archiver.data, 1)
	assert.JSONEq(t, `{"segments":[]}`, string(archiver.data[0]))
}

func TestHandleTranscriptDone_UnknownBot(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, newTestManager(store, newFakeProvider()).HandleTranscriptDone(context.Background(), "nope", "tr-1"))
	assert.Zero(t, store.writeCount())
}

func TestHandleTranscriptDone_DuplicateDeliveryIsNoop(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusTranscriptProcessing)
	store, provider := newFakeStore(meeting), newFakeProvider()
	m := newTestManager(store, provider)

	require.NoError(t, m.HandleTranscriptDone(context.Background(), "bot-1", "tr-1"))
	writes := store.writeCount()
	require.NoError(t, m.HandleTranscriptDone(context.Background(), "bot-1", "tr-1"))
	assert.Equal(t, writes, store.writeCount())
}

func TestRefreshTranscript_ReturnsNotReady(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusTranscriptProcessing)
	meeting.TranscriptID = "tr-1"
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.transcriptInfo = func(id string) (*recall.TranscriptInfo, error) {
		return transcriptInfo(id, "processing", ""), nil
	}

	err := newTestManager(store, provider).RefreshTranscript(context.Background(), "bot-1", "")
	assert.ErrorIs(t, err, ErrTranscriptNotReady)
	assert.Zero(t, store.writeCount())
}

func TestRetryTranscript_RecoversRecordingFromProvider(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusFailed)
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.recordings = []recall.Recording{{ID: "rec-9"}}

	require.NoError(t, newTestManager(store, provider).RetryTranscript(context.Background(), meeting.ID))
	got := store.get(meeting.ID)
	assert.Equal(t, "rec-9", got.RecordingID)
	assert.Equal(t, "tr-rec-9", got.TranscriptID)
	assert.Equal(t, models.BotStatusTranscriptProcessing, got.BotStatus)
}

func TestRetryTranscript_Errors(t *testing.T) {
	noBot := upcomingMeeting(testNow)
	noRecording := meetingWithBot("bot-2", models.BotStatusRecordingCompleted)
	store := newFakeStore(noBot, noRecording)
	m := newTestManager(store, newFakeProvider())

	assert.ErrorIs(t, m.RetryTranscript(context.Background(), uuid.New()), ErrMeetingNotFound)
	assert.ErrorIs(t, m.RetryTranscript(context.Background(), noBot.ID), ErrNoBot)
	assert.ErrorIs(t, m.RetryTranscript(context.Background(), noRecording.ID), ErrNoRecording)
}

func TestRetryTranscript_CompletedIsNoop(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusCompleted)
	store := newFakeStore(meeting)
	require.NoError(t, newTestManager(store, newFakeProvider()).RetryTranscript(context.Background(), meeting.ID))
	assert.Zero(t, store.writeCount())
}

func TestReconcile_StatusMapping(t *testing.T) {
	tests := []struct {
		from       models.BotStatus
		provider   string
		transcript string
		want       models.BotStatus
		changed    bool
	}{
		{models.BotStatusScheduled, recall.BotStatusRecording, "", models.BotStatusRecording, true},
		{models.BotStatusScheduled, recall.BotStatusDone, "hello all", models.BotStatusCompleted, true},
		{models.BotStatusScheduled, recall.BotStatusError, "", models.BotStatusFailed, true},
		{models.BotStatusScheduled, recall.BotStatusJoining, "", models.BotStatusScheduled, false},
		{models.BotStatusScheduled, recall.BotStatusScheduled, "", models.BotStatusScheduled, false},
		{models.BotStatusRecordingCompleted, recall.BotStatusDone, "", models.BotStatusRecordingCompleted, false},
		{models.BotStatusRecordingCompleted, recall.BotStatusError, "", models.BotStatusRecordingCompleted, false},
		{models.BotStatusTranscriptProcessing, recall.BotStatusDone, "", models.BotStatusTranscriptProcessing, false},
		{models.BotStatusTranscriptProcessing, recall.BotStatusError, "", models.BotStatusTranscriptProcessing, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.provider, func(t *testing.T) {
			meeting := meetingWithBot("bot-1", tt.from)
			store, provider := newFakeStore(meeting), newFakeProvider()
			provider.botStatus["bot-1"] = tt.provider
			provider.botTranscript = tt.transcript

			res, err := newTestManager(store, provider).ReconcileMeeting(context.Background(), meeting.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.changed, res.Changed)

			got := store.get(meeting.ID)
			assert.Equal(t, tt.want, got.BotStatus)
			assert.Equal(t, tt.transcript, got.Transcript)
			if !tt.changed {
				assert.Zero(t, store.writeCount())
			}
		})
	}
}

func TestReconcile_ThenTranscriptDoneStoresSentences(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusTranscriptProcessing)
	meeting.RecordingID, meeting.TranscriptID = "rec-1", "tr-1"
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.botStatus["bot-1"] = recall.BotStatusDone
	provider.botTranscript = "Hello there Bye"
	m := newTestManager(store, provider)

	res, err := m.ReconcileMeeting(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Zero(t, store.writeCount())

	require.NoError(t, m.HandleTranscriptDone(context.Background(), "bot-1", "tr-1"))
	got := store.get(meeting.ID)
	assert.Equal(t, models.BotStatusCompleted, got.BotStatus)
	assert.Equal(t, []string{"Hello there", "Bye"}, got.TranscriptSentences)
	assert.JSONEq(t, sampleTranscript, got.Transcript)
}

func TestHandleTranscriptDone_CompletedWithoutSentencesIsProcessed(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusCompleted)
	meeting.TranscriptID, meeting.Transcript = "tr-1", "Hello there Bye"
	store := newFakeStore(meeting)

	require.NoError(t, newTestManager(store, newFakeProvider()).HandleTranscriptDone(context.Background(), "bot-1", "tr-1"))
	got := store.get(meeting.ID)
	assert.Equal(t, []string{"Hello there", "Bye"}, got.TranscriptSentences)
	assert.JSONEq(t, sampleTranscript, got.Transcript)
}

func TestReconcile_ErrorLeavesTranscriptUntouched(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusRecording)
	meeting.Transcript = "partial"
	meeting.TranscriptSentences = []string{"partial"}
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.botStatus["bot-1"] = recall.BotStatusError

	_, err := newTestManager(store, provider).ReconcileMeeting(context.Background(), meeting.ID)
	require.NoError(t, err)
	got := store.get(meeting.ID)
	assert.Equal(t, models.BotStatusFailed, got.BotStatus)
	assert.Equal(t, "partial", got.Transcript)
	assert.Equal(t, []string{"partial"}, got.TranscriptSentences)
	assert.Equal(t, []string{"update_status"}, store.writes)
}

func TestReconcile_DoneWithTranscriptFailureStillCompletes(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusRecording)
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.botStatus["bot-1"] = recall.BotStatusDone
	provider.botTranscriptErr = errBoom

	res, err := newTestManager(store, provider).ReconcileMeeting(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BotStatusCompleted, res.Status)
	assert.Empty(t, store.get(meeting.ID).Transcript)
}

func TestReconcile_ProviderErrorPropagates(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusScheduled)
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.botStatusErr["bot-1"] = errBoom

	_, err := newTestManager(store, provider).ReconcileMeeting(context.Background(), meeting.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))
	assert.Zero(t, store.writeCount())
}

func TestReconcile_TerminalMeetingIsLeftAlone(t *testing.T) {
	meeting := meetingWithBot("bot-1", models.BotStatusCompleted)
	meeting.Transcript = "full"
	store, provider := newFakeStore(meeting), newFakeProvider()
	provider.botStatus["bot-1"] = recall.BotStatusDone
	provider.botTranscript = "simple"

	res, err := newTestManager(store, provider).ReconcileMeeting(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, "full", store.get(meeting.ID).Transcript)
}

func TestReconcile_NoBot(t *testing.T) {
	meeting := upcomingMeeting(testNow)
	_, err := newTestManager(newFakeStore(meeting), newFakeProvider()).ReconcileMeeting(context.Background(), meeting.ID)
	assert.ErrorIs(t, err, ErrNoBot)
}
