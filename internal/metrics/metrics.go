// Package metrics holds the Prometheus instruments for the bot pipeline.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notetaker"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Metrics holds all Prometheus metrics for the bot lifecycle pipeline.
type Metrics struct {
	BotTransitionsTotal    *prometheus.CounterVec
	ProviderRequestsTotal  *prometheus.CounterVec
	SchedulerPassSeconds   *prometheus.HistogramVec
	SchedulerMeetingsTotal *prometheus.CounterVec
	WebhookEventsTotal     *prometheus.CounterVec
	JobsTotal              *prometheus.CounterVec
}

// New registers the pipeline metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BotTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bot_transitions_total",
				Help:      "Persisted bot status transitions by target status",
			},
			[]string{"status"},
		),
		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Transcription provider calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		SchedulerPassSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scheduler_pass_seconds",
				Help:      "Duration of scheduler passes",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"pass"},
		),
		SchedulerMeetingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_meetings_total",
				Help:      "Meetings visited by scheduler passes by outcome",
			},
			[]string{"pass", "outcome"},
		),
		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Provider webhook events received by event type and outcome",
			},
			[]string{"event", "outcome"},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Background transcript jobs processed by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}
}

// BotTransition counts a persisted status change.
func (m *Metrics) BotTransition(status string) {
	if m == nil {
		return
	}
	m.BotTransitionsTotal.WithLabelValues(status).Inc()
}

// ProviderCall counts a provider request.
func (m *Metrics) ProviderCall(operation string, err error) {
	if m == nil {
		return
	}
	m.ProviderRequestsTotal.WithLabelValues(operation, outcome(err)).Inc()
}

// SchedulerPass observes how long a pass took.
func (m *Metrics) SchedulerPass(pass string, d time.Duration) {
	if m == nil {
		return
	}
	m.SchedulerPassSeconds.WithLabelValues(pass).Observe(d.Seconds())
}

// SchedulerMeeting counts one meeting handled by a pass.
func (m *Metrics) SchedulerMeeting(pass, result string) {
	if m == nil {
		return
	}
	m.SchedulerMeetingsTotal.WithLabelValues(pass, result).Inc()
}

// WebhookEvent counts one received webhook.
func (m *Metrics) WebhookEvent(event, result string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(event, result).Inc()
}

// Job counts one processed background job.
func (m *Metrics) Job(jobType string, err error) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(jobType, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
