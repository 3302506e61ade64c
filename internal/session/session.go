package session

import (
	"time"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusError     Status = "error"
)

// Message is one entry in the conversation transcript.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one end-to-end voice interview instance tied to a form schema.
// It is mutated only by the orchestrator and the completion service, and
// becomes immutable once completed or expired.
type Session struct {
	ID     string `json:"session_id"`
	FormID string `json:"form_id"`
	Status Status `json:"status"`

	CollectedData map[string]any `json:"collected_data"`
	Conversation  []Message      `json:"conversation_history"`
	Summary       string         `json:"summary,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	DurationSeconds   int `json:"duration_seconds,omitempty"`
	FieldsCompleted   int `json:"fields_completed"`
	TotalInteractions int `json:"total_interactions"`
}

// New creates a pending session for the given form.
func New(id, formID string, ttl time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:            id,
		FormID:        formID,
		Status:        StatusPending,
		CollectedData: make(map[string]any),
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

// IsExpired reports whether the session passed its expiry timestamp.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// MarkStarted transitions a pending session to active and records the start
// time. Repeated calls are no-ops.
func (s *Session) MarkStarted() {
	if s.Status != StatusPending {
		return
	}
	now := time.Now().UTC()
	s.Status = StatusActive
	s.StartedAt = &now
}

// MarkCompleted transitions the session to completed, stamping the
// completion time and duration. Idempotent: a second call does nothing.
func (s *Session) MarkCompleted() {
	if s.Status == StatusCompleted {
		return
	}
	now := time.Now().UTC()
	s.Status = StatusCompleted
	s.CompletedAt = &now
	if s.StartedAt != nil {
		s.DurationSeconds = int(now.Sub(*s.StartedAt).Seconds())
	}
}

// AddMessage appends a transcript entry and bumps the interaction counter.
func (s *Session) AddMessage(role, text string) {
	s.Conversation = append(s.Conversation, Message{
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	s.TotalInteractions++
}

// SetField upserts a collected value and recomputes the completed count.
func (s *Session) SetField(name string, value any) {
	if s.CollectedData == nil {
		s.CollectedData = make(map[string]any)
	}
	s.CollectedData[name] = value
	completed := 0
	for _, v := range s.CollectedData {
		if v != nil {
			completed++
		}
	}
	s.FieldsCompleted = completed
}

// CompletionPercentage returns collected progress against the schema size.
func (s *Session) CompletionPercentage(totalFields int) int {
	if totalFields == 0 {
		return 0
	}
	return s.FieldsCompleted * 100 / totalFields
}
