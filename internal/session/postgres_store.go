package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voiceforms/platform/internal/form"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists sessions, schemas and webhook deliveries in the
// relational database. JSON-shaped columns (collected data, conversation,
// fields) are stored as jsonb.
type PostgresStore struct {
	pool querier
}

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("session: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithQuerier(q querier) *PostgresStore {
	if q == nil {
		panic("session: querier required")
	}
	return &PostgresStore{pool: q}
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT session_id, form_id, status, collected_data, conversation, summary,
		       created_at, expires_at, started_at, completed_at,
		       duration_seconds, fields_completed, total_interactions
		FROM sessions
		WHERE session_id = $1
	`
	var (
		s            Session
		collected    []byte
		conversation []byte
	)
	if err := p.pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.FormID,
		&s.Status,
		&collected,
		&conversation,
		&s.Summary,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.StartedAt,
		&s.CompletedAt,
		&s.DurationSeconds,
		&s.FieldsCompleted,
		&s.TotalInteractions,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("session: select session: %w", err)
	}
	if err := json.Unmarshal(collected, &s.CollectedData); err != nil {
		return nil, fmt.Errorf("session: decode collected data: %w", err)
	}
	if len(conversation) > 0 {
		if err := json.Unmarshal(conversation, &s.Conversation); err != nil {
			return nil, fmt.Errorf("session: decode conversation: %w", err)
		}
	}
	return &s, nil
}

func (p *PostgresStore) SaveSession(ctx context.Context, s *Session) error {
	collected, err := json.Marshal(s.CollectedData)
	if err != nil {
		return fmt.Errorf("session: encode collected data: %w", err)
	}
	conversation, err := json.Marshal(s.Conversation)
	if err != nil {
		return fmt.Errorf("session: encode conversation: %w", err)
	}
	query := `
		INSERT INTO sessions (
			session_id, form_id, status, collected_data, conversation, summary,
			created_at, expires_at, started_at, completed_at,
			duration_seconds, fields_completed, total_interactions
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			collected_data = EXCLUDED.collected_data,
			conversation = EXCLUDED.conversation,
			summary = EXCLUDED.summary,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			duration_seconds = EXCLUDED.duration_seconds,
			fields_completed = EXCLUDED.fields_completed,
			total_interactions = EXCLUDED.total_interactions
	`
	if _, err := p.pool.Exec(ctx, query,
		s.ID,
		s.FormID,
		s.Status,
		collected,
		conversation,
		s.Summary,
		s.CreatedAt,
		s.ExpiresAt,
		s.StartedAt,
		s.CompletedAt,
		s.DurationSeconds,
		s.FieldsCompleted,
		s.TotalInteractions,
	); err != nil {
		return fmt.Errorf("session: upsert session: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetSchema(ctx context.Context, formID string) (*form.Schema, error) {
	query := `
		SELECT form_id, name, description, opening_prompt, success_message,
		       error_message, fields, callback_url, callback_method, webhook_secret
		FROM forms
		WHERE form_id = $1
	`
	var (
		schema form.Schema
		fields []byte
	)
	if err := p.pool.QueryRow(ctx, query, formID).Scan(
		&schema.FormID,
		&schema.Name,
		&schema.Description,
		&schema.OpeningPrompt,
		&schema.SuccessMessage,
		&schema.ErrorMessage,
		&fields,
		&schema.CallbackURL,
		&schema.CallbackMethod,
		&schema.WebhookSecret,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSchemaNotFound
		}
		return nil, fmt.Errorf("session: select schema: %w", err)
	}
	if err := json.Unmarshal(fields, &schema.Fields); err != nil {
		return nil, fmt.Errorf("session: decode schema fields: %w", err)
	}
	return &schema, nil
}

func (p *PostgresStore) SaveSchema(ctx context.Context, schema *form.Schema) error {
	fields, err := json.Marshal(schema.Fields)
	if err != nil {
		return fmt.Errorf("session: encode schema fields: %w", err)
	}
	query := `
		INSERT INTO forms (
			form_id, name, description, opening_prompt, success_message,
			error_message, fields, callback_url, callback_method, webhook_secret
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (form_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			opening_prompt = EXCLUDED.opening_prompt,
			success_message = EXCLUDED.success_message,
			error_message = EXCLUDED.error_message,
			fields = EXCLUDED.fields,
			callback_url = EXCLUDED.callback_url,
			callback_method = EXCLUDED.callback_method,
			webhook_secret = EXCLUDED.webhook_secret
	`
	if _, err := p.pool.Exec(ctx, query,
		schema.FormID,
		schema.Name,
		schema.Description,
		schema.OpeningPrompt,
		schema.SuccessMessage,
		schema.ErrorMessage,
		fields,
		schema.CallbackURL,
		schema.CallbackMethod,
		schema.WebhookSecret,
	); err != nil {
		return fmt.Errorf("session: upsert schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) ExpireStale(ctx context.Context) (int, error) {
	query := `
		UPDATE sessions
		SET status = 'expired'
		WHERE status IN ('pending', 'active') AND expires_at < now()
	`
	ct, err := p.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("session: expire stale: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (p *PostgresStore) EnqueueDelivery(ctx context.Context, sessionID string) error {
	query := `
		INSERT INTO webhook_deliveries (session_id, status, attempts, next_retry_at)
		VALUES ($1, 'pending', 0, now())
		ON CONFLICT (session_id) DO UPDATE SET
			status = 'pending',
			attempts = 0,
			next_retry_at = now(),
			delivered_at = NULL
	`
	if _, err := p.pool.Exec(ctx, query, sessionID); err != nil {
		return fmt.Errorf("session: enqueue delivery: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetDelivery(ctx context.Context, sessionID string) (*Delivery, error) {
	query := `
		SELECT session_id, status, attempts, next_retry_at, last_status_code, delivered_at
		FROM webhook_deliveries
		WHERE session_id = $1
	`
	var d Delivery
	if err := p.pool.QueryRow(ctx, query, sessionID).Scan(
		&d.SessionID,
		&d.Status,
		&d.Attempts,
		&d.NextRetryAt,
		&d.LastStatusCode,
		&d.DeliveredAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("session: select delivery: %w", err)
	}
	return &d, nil
}

func (p *PostgresStore) ListDueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	query := `
		SELECT session_id, status, attempts, next_retry_at, last_status_code, delivered_at
		FROM webhook_deliveries
		WHERE status = 'pending' AND next_retry_at <= now()
		ORDER BY next_retry_at
		LIMIT $1
	`
	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("session: list due deliveries: %w", err)
	}
	defer rows.Close()

	var due []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(
			&d.SessionID,
			&d.Status,
			&d.Attempts,
			&d.NextRetryAt,
			&d.LastStatusCode,
			&d.DeliveredAt,
		); err != nil {
			return nil, fmt.Errorf("session: scan delivery: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

func (p *PostgresStore) ScheduleRetry(ctx context.Context, sessionID string, attempts int, nextRetryAt time.Time) error {
	query := `
		UPDATE webhook_deliveries
		SET attempts = $2, next_retry_at = $3
		WHERE session_id = $1
	`
	ct, err := p.pool.Exec(ctx, query, sessionID, attempts, nextRetryAt)
	if err != nil {
		return fmt.Errorf("session: schedule retry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func (p *PostgresStore) MarkDelivered(ctx context.Context, sessionID string, attempts, statusCode int) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'delivered', attempts = $2, last_status_code = $3, delivered_at = now()
		WHERE session_id = $1
	`
	ct, err := p.pool.Exec(ctx, query, sessionID, attempts, statusCode)
	if err != nil {
		return fmt.Errorf("session: mark delivered: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func (p *PostgresStore) MarkDeliveryFailed(ctx context.Context, sessionID string, attempts int) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'failed', attempts = $2
		WHERE session_id = $1
	`
	ct, err := p.pool.Exec(ctx, query, sessionID, attempts)
	if err != nil {
		return fmt.Errorf("session: mark delivery failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func (p *PostgresStore) AppendWebhookAttempt(ctx context.Context, attempt WebhookAttempt) error {
	query := `
		INSERT INTO webhook_attempts (
			session_id, url, method, payload, signature, status_code,
			response_body, error_message, attempt_number, success, latency_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if _, err := p.pool.Exec(ctx, query,
		attempt.SessionID,
		attempt.URL,
		attempt.Method,
		attempt.Payload,
		attempt.Signature,
		attempt.StatusCode,
		attempt.ResponseBody,
		attempt.ErrorMessage,
		attempt.AttemptNumber,
		attempt.Success,
		attempt.LatencyMS,
		attempt.Timestamp,
	); err != nil {
		return fmt.Errorf("session: insert webhook attempt: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListWebhookAttempts(ctx context.Context, sessionID string) ([]WebhookAttempt, error) {
	query := `
		SELECT session_id, url, method, payload, signature, status_code,
		       response_body, error_message, attempt_number, success, latency_ms, created_at
		FROM webhook_attempts
		WHERE session_id = $1
		ORDER BY attempt_number
	`
	rows, err := p.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: list webhook attempts: %w", err)
	}
	defer rows.Close()

	var attempts []WebhookAttempt
	for rows.Next() {
		var a WebhookAttempt
		if err := rows.Scan(
			&a.SessionID,
			&a.URL,
			&a.Method,
			&a.Payload,
			&a.Signature,
			&a.StatusCode,
			&a.ResponseBody,
			&a.ErrorMessage,
			&a.AttemptNumber,
			&a.Success,
			&a.LatencyMS,
			&a.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("session: scan webhook attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
