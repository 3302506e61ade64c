package session

import (
	"context"
	"errors"
	"time"

	"github.com/voiceforms/platform/internal/form"
)

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSchemaNotFound indicates an unknown form id.
	ErrSchemaNotFound = errors.New("session: form schema not found")
	// ErrDeliveryNotFound indicates no webhook delivery exists for a session.
	ErrDeliveryNotFound = errors.New("session: delivery not found")
)

// Delivery states for the webhook subsystem.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// WebhookAttempt is one delivery attempt, recorded append-only. A session
// may accumulate several attempts across retries.
type WebhookAttempt struct {
	SessionID     string    `json:"session_id"`
	URL           string    `json:"url"`
	Method        string    `json:"method"`
	Payload       []byte    `json:"payload"`
	Signature     string    `json:"signature"`
	StatusCode    int       `json:"status_code,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	AttemptNumber int       `json:"attempt_number"`
	Success       bool      `json:"success"`
	LatencyMS     int64     `json:"latency_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// Delivery tracks the webhook delivery lifecycle for one completed session.
type Delivery struct {
	SessionID      string     `json:"session_id"`
	Status         string     `json:"status"` // pending, delivered, failed
	Attempts       int        `json:"attempts"`
	NextRetryAt    time.Time  `json:"next_retry_at"`
	LastStatusCode int        `json:"last_status_code,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

// Store is the persistence collaborator. The live orchestrator is the single
// writer for any one session; writes are applied last-write-wins per field.
type Store interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	SaveSession(ctx context.Context, s *Session) error
	GetSchema(ctx context.Context, formID string) (*form.Schema, error)
	SaveSchema(ctx context.Context, schema *form.Schema) error

	// ExpireStale marks pending/active sessions past their expiry as expired
	// and returns how many were swept.
	ExpireStale(ctx context.Context) (int, error)

	// EnqueueDelivery creates a pending delivery due immediately. Enqueueing
	// an existing delivery resets it for an explicit caller retry.
	EnqueueDelivery(ctx context.Context, sessionID string) error
	GetDelivery(ctx context.Context, sessionID string) (*Delivery, error)
	// ListDueDeliveries returns pending deliveries whose next retry time has
	// passed, capped at limit.
	ListDueDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	ScheduleRetry(ctx context.Context, sessionID string, attempts int, nextRetryAt time.Time) error
	MarkDelivered(ctx context.Context, sessionID string, attempts, statusCode int) error
	MarkDeliveryFailed(ctx context.Context, sessionID string, attempts int) error

	AppendWebhookAttempt(ctx context.Context, attempt WebhookAttempt) error
	ListWebhookAttempts(ctx context.Context, sessionID string) ([]WebhookAttempt, error)
}
