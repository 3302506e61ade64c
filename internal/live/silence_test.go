package live

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func pcmFrame(amplitude int16, samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(amplitude))
	}
	return frame
}

func TestMeanAbsAmplitude(t *testing.T) {
	assert.Equal(t, 0, MeanAbsAmplitude(nil))
	assert.Equal(t, 0, MeanAbsAmplitude([]byte{0x01}), "odd tail alone yields zero")
	assert.Equal(t, 500, MeanAbsAmplitude(pcmFrame(500, 16)))
	assert.Equal(t, 500, MeanAbsAmplitude(pcmFrame(-500, 16)), "negative samples count by magnitude")

	mixed := append(pcmFrame(1000, 8), pcmFrame(0, 8)...)
	assert.Equal(t, 500, MeanAbsAmplitude(mixed))
}

func testSilenceConfig() SilenceConfig {
	return SilenceConfig{
		PollInterval:       5 * time.Millisecond,
		Timeout:            60 * time.Millisecond,
		AmplitudeThreshold: 120,
		BackendQuietWindow: 20 * time.Millisecond,
		GracePeriod:        10 * time.Millisecond,
	}
}

func TestSilenceMonitorNeverFiresWithoutSpeech(t *testing.T) {
	var fired atomic.Bool
	m := NewSilenceMonitor(testSilenceConfig(),
		func() time.Time { return time.Time{} },
		make(chan struct{}),
		func() { fired.Store(true) },
		nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	// Quiet frames arrive but never clear the speech threshold.
	go func() {
		for ctx.Err() == nil {
			m.ObserveClientAudio(pcmFrame(10, 16))
			time.Sleep(5 * time.Millisecond)
		}
	}()

	m.Run(ctx)
	assert.False(t, fired.Load(), "idle sessions must not auto-complete")
}

func TestSilenceMonitorFiresAfterTimeout(t *testing.T) {
	var fired atomic.Bool
	start := time.Now()
	var firedAt time.Time
	m := NewSilenceMonitor(testSilenceConfig(),
		func() time.Time { return time.Time{} },
		make(chan struct{}),
		func() { fired.Store(true); firedAt = time.Now() },
		nil)

	m.ObserveClientAudio(pcmFrame(2000, 16)) // speech at t=0, then nothing

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Run(ctx)

	assert.True(t, fired.Load())
	elapsed := firedAt.Sub(start)
	// Timeout (60ms) + grace (10ms), within polling granularity.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond, "must not fire before the timeout")
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestSilenceMonitorHeldOpenByBackendAudio(t *testing.T) {
	var fired atomic.Bool
	var backendStamp atomic.Int64
	backendStamp.Store(time.Now().UnixNano())

	m := NewSilenceMonitor(testSilenceConfig(),
		func() time.Time { return time.Unix(0, backendStamp.Load()) },
		make(chan struct{}),
		func() { fired.Store(true) },
		nil)

	m.ObserveClientAudio(pcmFrame(2000, 16))

	// Keep the backend "speaking" past the silence timeout.
	stop := time.After(120 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				cancel()
				return
			case <-ticker.C:
				backendStamp.Store(time.Now().UnixNano())
			}
		}
	}()

	m.Run(ctx)
	assert.False(t, fired.Load(), "assistant speech defers the trigger")
}

func TestSilenceMonitorGraceResolvesEarlyOnSummary(t *testing.T) {
	cfg := testSilenceConfig()
	cfg.GracePeriod = time.Minute // would stall the test if the summary signal were ignored

	summary := make(chan struct{})
	close(summary)

	var fired atomic.Bool
	m := NewSilenceMonitor(cfg,
		func() time.Time { return time.Time{} },
		summary,
		func() { fired.Store(true) },
		nil)

	m.ObserveClientAudio(pcmFrame(2000, 16))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Run(ctx)
	assert.True(t, fired.Load())
}

func TestSilenceMonitorFireIsOneShot(t *testing.T) {
	var count atomic.Int32
	m := NewSilenceMonitor(testSilenceConfig(),
		func() time.Time { return time.Time{} },
		make(chan struct{}),
		func() { count.Add(1) },
		nil)

	m.Fire()
	m.Fire()
	assert.Equal(t, int32(1), count.Load())
}
