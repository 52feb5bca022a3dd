package bots

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notetaker/backend/internal/metrics"
)

const (
	// DefaultInterval is how often the scheduler runs its passes.
	DefaultInterval = 5 * time.Minute
	// DefaultWindow is how far ahead the scheduling pass looks.
	DefaultWindow = 24 * time.Hour

	passPoll     = "poll"
	passSchedule = "schedule"
)

// PassSummary counts per-meeting outcomes of one pass.
type PassSummary struct {
	Meetings  int    `json:"meetings"`
	Succeeded int    `json:"succeeded"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// RunSummary is the result of one scheduler tick.
type RunSummary struct {
	Poll     PassSummary `json:"poll"`
	Schedule PassSummary `json:"schedule"`
}

// SchedulerOptions configures a Scheduler. Zero values use the defaults.
type SchedulerOptions struct {
	Interval time.Duration
	Window   time.Duration
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Scheduler periodically reconciles active bots and creates bots for upcoming meetings. Start and Stop
// are idempotent; one loop runs per Scheduler.
type Scheduler struct {
	manager  *Manager
	interval time.Duration
	window   time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	runMu sync.Mutex
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(manager *Manager, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		manager:  manager,
		interval: opts.Interval,
		window:   opts.Window,
		metrics:  opts.Metrics,
		now:      opts.Now,
		logger:   logger,
	}
}

// Start runs one tick immediately and then one per interval until ctx is done or Stop is called.
// It returns false if the loop was already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		s.loop(loopCtx)
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		cancel()
	}()
	s.logger.Info("bot scheduler started", zap.Duration("interval", s.interval))
	return true
}

// Stop ends the loop and waits for an in-flight tick to finish. It returns false if it was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	s.logger.Info("bot scheduler stopped")
	return true
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs the poll pass and then the scheduling pass. Concurrent calls run one at a time.
func (s *Scheduler) RunOnce(ctx context.Context) RunSummary {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return RunSummary{
		Poll:     s.PollPass(ctx),
		Schedule: s.SchedulePass(ctx),
	}
}

// PollPass reconciles every meeting with an active bot whose start time has passed. A failing meeting
// is logged and does not stop the pass.
func (s *Scheduler) PollPass(ctx context.Context) PassSummary {
	start := time.Now()
	defer func() { s.metrics.SchedulerPass(passPoll, time.Since(start)) }()

	var sum PassSummary
	meetings, err := s.manager.store.ListActiveBots(ctx, s.now())
	if err != nil {
		s.logger.Error("list active bots failed", zap.Error(err))
		sum.Error = err.Error()
		return sum
	}
	sum.Meetings = len(meetings)
	s.logger.Debug("poll pass", zap.Int("meetings", len(meetings)))

	for _, meeting := range meetings {
		if ctx.Err() != nil {
			break
		}
		res, err := s.manager.reconcile(ctx, meeting.ID, true)
		switch {
		case err != nil:
			sum.Failed++
			s.metrics.SchedulerMeeting(passPoll, metrics.OutcomeError)
			s.logger.Error("poll meeting failed", zap.Error(err),
				zap.String("meeting_id", meeting.ID.String()), zap.String("bot_id", meeting.BotID))
		case res.Changed:
			sum.Succeeded++
			s.metrics.SchedulerMeeting(passPoll, metrics.OutcomeSuccess)
		default:
			sum.Skipped++
			s.metrics.SchedulerMeeting(passPoll, metrics.OutcomeSkipped)
		}
	}
	return sum
}

// SchedulePass creates bots for notetaker-enabled meetings starting within the window. A failing
// meeting is logged and does not stop the pass.
func (s *Scheduler) SchedulePass(ctx context.Context) PassSummary {
	start := time.Now()
	defer func() { s.metrics.SchedulerPass(passSchedule, time.Since(start)) }()

	var sum PassSummary
	now := s.now()
	meetings, err := s.manager.store.ListDueForScheduling(ctx, now, now.Add(s.window))
	if err != nil {
		s.logger.Error("list meetings due for scheduling failed", zap.Error(err))
		sum.Error = err.Error()
		return sum
	}
	sum.Meetings = len(meetings)
	s.logger.Debug("schedule pass", zap.Int("meetings", len(meetings)))

	for _, meeting := range meetings {
		if ctx.Err() != nil {
			break
		}
		res, err := s.manager.ScheduleMeeting(ctx, meeting.ID)
		switch {
		case err != nil:
			sum.Failed++
			s.metrics.SchedulerMeeting(passSchedule, metrics.OutcomeError)
			s.logger.Error("schedule meeting failed", zap.Error(err), zap.String("meeting_id", meeting.ID.String()))
		case res == ScheduleCreated:
			sum.Succeeded++
			s.metrics.SchedulerMeeting(passSchedule, metrics.OutcomeSuccess)
		default:
			sum.Skipped++
			s.metrics.SchedulerMeeting(passSchedule, metrics.OutcomeSkipped)
		}
	}
	return sum
}
