package live

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voiceforms/platform/pkg/logging"
)

// SilenceConfig tunes the silence heuristic. Values are empirical, not
// correctness constraints.
type SilenceConfig struct {
	PollInterval       time.Duration
	Timeout            time.Duration
	AmplitudeThreshold int
	BackendQuietWindow time.Duration
	GracePeriod        time.Duration
}

func (c SilenceConfig) withDefaults() SilenceConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 6500 * time.Millisecond
	}
	if c.AmplitudeThreshold <= 0 {
		c.AmplitudeThreshold = 120
	}
	if c.BackendQuietWindow <= 0 {
		c.BackendQuietWindow = 1500 * time.Millisecond
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 2 * time.Second
	}
	return c
}

// SilenceMonitor infers "the user has stopped responding" from gaps in
// audio energy and triggers completion once. It is a heuristic watchdog:
// false positives and negatives are acceptable failure modes.
type SilenceMonitor struct {
	cfg          SilenceConfig
	logger       *logging.Logger
	backendAudio func() time.Time
	summaryDone  <-chan struct{}
	trigger      func()

	speechSeen atomic.Bool
	lastSound  atomic.Int64
	lastAudio  atomic.Int64
	once       sync.Once
}

// NewSilenceMonitor wires the watchdog. backendAudio reports when the
// backend last emitted audio (so the assistant is not cut off mid-reply),
// summaryDone resolves the grace wait early when a tool-call summary has
// already landed, and trigger fires completion.
func NewSilenceMonitor(cfg SilenceConfig, backendAudio func() time.Time, summaryDone <-chan struct{}, trigger func(), logger *logging.Logger) *SilenceMonitor {
	if logger == nil {
		logger = logging.Default()
	}
	return &SilenceMonitor{
		cfg:          cfg.withDefaults(),
		logger:       logger,
		backendAudio: backendAudio,
		summaryDone:  summaryDone,
		trigger:      trigger,
	}
}

// ObserveClientAudio feeds one raw client frame into the watchdog. Frames
// whose mean absolute amplitude clears the threshold count as speech.
func (m *SilenceMonitor) ObserveClientAudio(pcm []byte) {
	now := time.Now().UnixNano()
	m.lastAudio.Store(now)
	if MeanAbsAmplitude(pcm) >= m.cfg.AmplitudeThreshold {
		m.lastSound.Store(now)
		m.speechSeen.Store(true)
	}
}

// Run polls until the trigger rule fires or the context is cancelled.
// The rule: speech was detected at least once, both the last-sound and
// last-audio gaps exceed the timeout, and the backend has been quiet for
// its own window. Before triggering, Run waits up to the grace period for
// a pending tool-call summary.
func (m *SilenceMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !m.silenceElapsed() {
			continue
		}

		m.logger.Info("silence timeout reached, waiting for pending summary",
			"timeout_ms", m.cfg.Timeout.Milliseconds())
		grace := time.NewTimer(m.cfg.GracePeriod)
		select {
		case <-m.summaryDone:
			grace.Stop()
		case <-grace.C:
		case <-ctx.Done():
			grace.Stop()
			return
		}

		m.Fire()
		return
	}
}

// Fire invokes the completion trigger exactly once.
func (m *SilenceMonitor) Fire() {
	m.once.Do(m.trigger)
}

func (m *SilenceMonitor) silenceElapsed() bool {
	if !m.speechSeen.Load() {
		return false
	}
	now := time.Now()
	if now.Sub(time.Unix(0, m.lastSound.Load())) < m.cfg.Timeout {
		return false
	}
	if now.Sub(time.Unix(0, m.lastAudio.Load())) < m.cfg.Timeout {
		return false
	}
	if last := m.backendAudio(); !last.IsZero() && now.Sub(last) < m.cfg.BackendQuietWindow {
		return false
	}
	return true
}

// MeanAbsAmplitude computes the mean absolute amplitude of a little-endian
// 16-bit PCM frame. Empty or odd-length tails yield zero.
func MeanAbsAmplitude(pcm []byte) int {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var total int64
	for i := 0; i < samples*2; i += 2 {
		v := int64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if v < 0 {
			v = -v
		}
		total += v
	}
	return int(total / int64(samples))
}
