package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRelayClosed signals the inbound queue is closed and drained.
var ErrRelayClosed = errors.New("live: audio relay closed")

// AudioRelay moves raw PCM between the client transport and the backend
// connection through two unidirectional queues. The outbound queue
// (client to backend) is small and blocking so the client transport feels
// backpressure instead of buffering unboundedly. The inbound queue
// (backend to client) grows as needed: the backend reader must never
// block, even when the client drains slowly.
type AudioRelay struct {
	outbound chan []byte

	mu       sync.Mutex
	inbound  [][]byte
	notify   chan struct{}
	closed   bool
	lastOut  atomic.Int64 // unix nanos of the last backend audio chunk
}

// NewAudioRelay creates a relay with the given outbound queue capacity.
func NewAudioRelay(outboundCapacity int) *AudioRelay {
	if outboundCapacity <= 0 {
		outboundCapacity = 5
	}
	return &AudioRelay{
		outbound: make(chan []byte, outboundCapacity),
		notify:   make(chan struct{}, 1),
	}
}

// PushClientAudio enqueues client audio for the backend, blocking when the
// outbound queue is full. This is the backpressure point.
func (r *AudioRelay) PushClientAudio(ctx context.Context, pcm []byte) error {
	select {
	case r.outbound <- pcm:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PopClientAudio dequeues the next client frame for the backend writer.
func (r *AudioRelay) PopClientAudio(ctx context.Context) ([]byte, error) {
	select {
	case pcm := <-r.outbound:
		return pcm, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PushBackendAudio enqueues backend audio for the client without ever
// blocking the backend reader, and stamps the last-audio time consumed by
// the silence monitor.
func (r *AudioRelay) PushBackendAudio(pcm []byte) {
	r.lastOut.Store(time.Now().UnixNano())
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.inbound = append(r.inbound, pcm)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// PopBackendAudio blocks until backend audio is available or the context
// is cancelled. Frames come out in arrival order.
func (r *AudioRelay) PopBackendAudio(ctx context.Context) ([]byte, error) {
	for {
		r.mu.Lock()
		if len(r.inbound) > 0 {
			pcm := r.inbound[0]
			r.inbound = r.inbound[1:]
			r.mu.Unlock()
			return pcm, nil
		}
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return nil, ErrRelayClosed
		}
		select {
		case <-r.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// LastBackendAudio returns when the backend last emitted audio, or the
// zero time if it never has.
func (r *AudioRelay) LastBackendAudio() time.Time {
	ns := r.lastOut.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Close stops accepting backend audio. Pending inbound frames remain
// poppable until drained.
func (r *AudioRelay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}
