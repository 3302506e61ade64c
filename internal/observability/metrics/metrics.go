package metrics

import "github.com/prometheus/client_golang/prometheus"

// SessionMetrics exposes counters for the live interview flow.
type SessionMetrics struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted *prometheus.CounterVec
	silenceTriggers   prometheus.Counter
	toolCalls         *prometheus.CounterVec
}

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceforms",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Total live sessions started",
		}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceforms",
			Subsystem: "session",
			Name:      "completed_total",
			Help:      "Total sessions completed, by trigger reason",
		}, []string{"reason"}),
		silenceTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceforms",
			Subsystem: "session",
			Name:      "silence_triggers_total",
			Help:      "Total completions triggered by the silence watchdog",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceforms",
			Subsystem: "session",
			Name:      "tool_calls_total",
			Help:      "Total tool calls received from the audio backend",
		}, []string{"tool"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sessionsStarted, m.sessionsCompleted, m.silenceTriggers, m.toolCalls)
	return m
}

func (m *SessionMetrics) ObserveStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *SessionMetrics) ObserveCompleted(reason string) {
	if m == nil {
		return
	}
	m.sessionsCompleted.WithLabelValues(reason).Inc()
	if reason == "silence" {
		m.silenceTriggers.Inc()
	}
}

func (m *SessionMetrics) ObserveToolCall(tool string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool).Inc()
}

// WebhookMetrics exposes counters/histograms for webhook delivery.
type WebhookMetrics struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration prometheus.Histogram
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceforms",
			Subsystem: "webhook",
			Name:      "attempts_total",
			Help:      "Total webhook delivery attempts, by outcome",
		}, []string{"outcome"}),
		attemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voiceforms",
			Subsystem: "webhook",
			Name:      "attempt_duration_seconds",
			Help:      "Latency of webhook delivery attempts",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attemptsTotal, m.attemptDuration)
	return m
}

func (m *WebhookMetrics) ObserveAttempt(success bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.attemptsTotal.WithLabelValues(outcome).Inc()
	m.attemptDuration.Observe(seconds)
}
