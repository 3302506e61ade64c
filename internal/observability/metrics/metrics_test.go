package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSessionMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics(reg)
	m.ObserveStarted()
	m.ObserveCompleted("silence")
	m.ObserveCompleted("manual")
	m.ObserveToolCall("save_field")
}

func TestWebhookMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.ObserveAttempt(true, 0.2)
	m.ObserveAttempt(false, 1.5)
}

func TestMetricsNilSafe(t *testing.T) {
	var sm *SessionMetrics
	sm.ObserveStarted()
	sm.ObserveCompleted("silence")
	sm.ObserveToolCall("complete_form")

	var wm *WebhookMetrics
	wm.ObserveAttempt(true, 0.1)
}
