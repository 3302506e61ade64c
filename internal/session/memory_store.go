package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/voiceforms/platform/internal/form"
)

// MemoryStore is a Store backed by in-process maps. Used in development
// (USE_MEMORY_STORE=true) and throughout the test suite.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	schemas    map[string]*form.Schema
	deliveries map[string]*Delivery
	attempts   map[string][]WebhookAttempt
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*Session),
		schemas:    make(map[string]*form.Schema),
		deliveries: make(map[string]*Delivery),
		attempts:   make(map[string][]WebhookAttempt),
	}
}

// GetSession returns a deep copy so callers cannot mutate shared state.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) SaveSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemoryStore) GetSchema(_ context.Context, formID string) (*form.Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	schema, ok := m.schemas[formID]
	if !ok {
		return nil, ErrSchemaNotFound
	}
	clone := *schema
	clone.Fields = append([]form.Field(nil), schema.Fields...)
	return &clone, nil
}

func (m *MemoryStore) SaveSchema(_ context.Context, schema *form.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *schema
	clone.Fields = append([]form.Field(nil), schema.Fields...)
	m.schemas[schema.FormID] = &clone
	return nil
}

func (m *MemoryStore) ExpireStale(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	swept := 0
	for _, s := range m.sessions {
		if (s.Status == StatusPending || s.Status == StatusActive) && now.After(s.ExpiresAt) {
			s.Status = StatusExpired
			swept++
		}
	}
	return swept, nil
}

func (m *MemoryStore) EnqueueDelivery(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[sessionID] = &Delivery{
		SessionID:   sessionID,
		Status:      DeliveryPending,
		NextRetryAt: time.Now().UTC(),
	}
	return nil
}

func (m *MemoryStore) GetDelivery(_ context.Context, sessionID string) (*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[sessionID]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	clone := *d
	return &clone, nil
}

func (m *MemoryStore) ListDueDeliveries(_ context.Context, limit int) ([]Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var due []Delivery
	for _, d := range m.deliveries {
		if d.Status == DeliveryPending && !d.NextRetryAt.After(now) {
			due = append(due, *d)
			if limit > 0 && len(due) >= limit {
				break
			}
		}
	}
	return due, nil
}

func (m *MemoryStore) ScheduleRetry(_ context.Context, sessionID string, attempts int, nextRetryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[sessionID]
	if !ok {
		return ErrDeliveryNotFound
	}
	d.Attempts = attempts
	d.NextRetryAt = nextRetryAt
	return nil
}

func (m *MemoryStore) MarkDelivered(_ context.Context, sessionID string, attempts, statusCode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[sessionID]
	if !ok {
		return ErrDeliveryNotFound
	}
	now := time.Now().UTC()
	d.Status = DeliveryDelivered
	d.Attempts = attempts
	d.LastStatusCode = statusCode
	d.DeliveredAt = &now
	return nil
}

func (m *MemoryStore) MarkDeliveryFailed(_ context.Context, sessionID string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[sessionID]
	if !ok {
		return ErrDeliveryNotFound
	}
	d.Status = DeliveryFailed
	d.Attempts = attempts
	return nil
}

func (m *MemoryStore) AppendWebhookAttempt(_ context.Context, attempt WebhookAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[attempt.SessionID] = append(m.attempts[attempt.SessionID], attempt)
	return nil
}

func (m *MemoryStore) ListWebhookAttempts(_ context.Context, sessionID string) ([]WebhookAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]WebhookAttempt(nil), m.attempts[sessionID]...), nil
}

func cloneSession(s *Session) *Session {
	clone := *s
	clone.Conversation = append([]Message(nil), s.Conversation...)
	clone.CollectedData = make(map[string]any, len(s.CollectedData))
	for k, v := range s.CollectedData {
		clone.CollectedData[k] = cloneValue(v)
	}
	return &clone
}

// cloneValue deep-copies collected values through JSON; values originate
// from decoded JSON so the round trip is lossless.
func cloneValue(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, int, int64:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
