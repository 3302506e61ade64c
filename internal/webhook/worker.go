package webhook

import (
	"context"
	"time"

	"github.com/voiceforms/platform/internal/form"
	"github.com/voiceforms/platform/internal/session"
	"github.com/voiceforms/platform/pkg/logging"
)

type deliveryStore interface {
	ListDueDeliveries(ctx context.Context, limit int) ([]session.Delivery, error)
	GetSession(ctx context.Context, id string) (*session.Session, error)
	GetSchema(ctx context.Context, formID string) (*form.Schema, error)
	ScheduleRetry(ctx context.Context, sessionID string, attempts int, nextRetryAt time.Time) error
	MarkDelivered(ctx context.Context, sessionID string, attempts, statusCode int) error
	MarkDeliveryFailed(ctx context.Context, sessionID string, attempts int) error
}

type deliverer interface {
	Deliver(ctx context.Context, sess *session.Session, schema *form.Schema, attemptNumber int) (int, bool, error)
}

// DeliveryWorker drains due webhook deliveries on an interval, retrying
// failures with exponential backoff until max attempts.
type DeliveryWorker struct {
	store       deliveryStore
	sender      deliverer
	logger      *logging.Logger
	maxAttempts int
	baseDelay   time.Duration
	interval    time.Duration
	batchSize   int
}

func NewDeliveryWorker(store deliveryStore, sender deliverer, logger *logging.Logger) *DeliveryWorker {
	if logger == nil {
		logger = logging.Default()
	}
	return &DeliveryWorker{
		store:       store,
		sender:      sender,
		logger:      logger.Component("webhook_worker"),
		maxAttempts: 3,
		baseDelay:   5 * time.Minute,
		interval:    30 * time.Second,
		batchSize:   25,
	}
}

func (w *DeliveryWorker) WithMaxAttempts(n int) *DeliveryWorker {
	if n > 0 {
		w.maxAttempts = n
	}
	return w
}

func (w *DeliveryWorker) WithBaseDelay(d time.Duration) *DeliveryWorker {
	if d > 0 {
		w.baseDelay = d
	}
	return w
}

func (w *DeliveryWorker) WithInterval(d time.Duration) *DeliveryWorker {
	if d > 0 {
		w.interval = d
	}
	return w
}

func (w *DeliveryWorker) WithBatchSize(n int) *DeliveryWorker {
	if n > 0 {
		w.batchSize = n
	}
	return w
}

func (w *DeliveryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain processes every due delivery once. Exposed so completion can kick
// an immediate pass instead of waiting for the next tick.
func (w *DeliveryWorker) Drain(ctx context.Context) {
	if w.store == nil || w.sender == nil {
		return
	}
	due, err := w.store.ListDueDeliveries(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list due deliveries", "error", err)
		return
	}
	for _, d := range due {
		w.process(ctx, d)
	}
}

func (w *DeliveryWorker) process(ctx context.Context, d session.Delivery) {
	attemptNumber := d.Attempts + 1

	sess, err := w.store.GetSession(ctx, d.SessionID)
	if err != nil {
		w.logger.Error("delivery references unknown session, abandoning",
			"session_id", d.SessionID, "error", err)
		w.markFailed(ctx, d.SessionID, d.Attempts)
		return
	}
	schema, err := w.store.GetSchema(ctx, sess.FormID)
	if err != nil {
		w.logger.Error("delivery references unknown form, abandoning",
			"session_id", d.SessionID, "form_id", sess.FormID, "error", err)
		w.markFailed(ctx, d.SessionID, d.Attempts)
		return
	}

	statusCode, ok, err := w.sender.Deliver(ctx, sess, schema, attemptNumber)
	if ok {
		if err := w.store.MarkDelivered(ctx, d.SessionID, attemptNumber, statusCode); err != nil {
			w.logger.Error("failed to mark delivery delivered", "session_id", d.SessionID, "error", err)
		}
		w.logger.Info("webhook delivered",
			"session_id", d.SessionID, "attempt", attemptNumber, "status_code", statusCode)
		return
	}
	if err != nil {
		w.logger.Warn("webhook attempt errored",
			"session_id", d.SessionID, "attempt", attemptNumber, "error", err)
	}

	if attemptNumber >= w.maxAttempts {
		w.markFailed(ctx, d.SessionID, attemptNumber)
		w.logger.Error("webhook delivery exhausted retries",
			"session_id", d.SessionID, "attempts", attemptNumber)
		return
	}
	next := time.Now().Add(w.nextDelay(attemptNumber))
	if err := w.store.ScheduleRetry(ctx, d.SessionID, attemptNumber, next); err != nil {
		w.logger.Error("failed to schedule retry", "session_id", d.SessionID, "error", err)
	}
}

func (w *DeliveryWorker) markFailed(ctx context.Context, sessionID string, attempts int) {
	if err := w.store.MarkDeliveryFailed(ctx, sessionID, attempts); err != nil {
		w.logger.Error("failed to mark delivery failed", "session_id", sessionID, "error", err)
	}
}

// nextDelay grows the backoff threefold per completed attempt, capped at
// 24 hours.
func (w *DeliveryWorker) nextDelay(attempts int) time.Duration {
	delay := w.baseDelay
	for i := 1; i < attempts; i++ {
		delay *= 3
	}
	if delay > 24*time.Hour {
		delay = 24 * time.Hour
	}
	return delay
}
