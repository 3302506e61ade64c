package webhook

import (
	"time"

	"github.com/voiceforms/platform/internal/form"
	"github.com/voiceforms/platform/internal/session"
)

// Payload is the webhook body delivered for a completed session.
type Payload struct {
	FormID      string         `json:"form_id"`
	SessionID   string         `json:"session_id"`
	CompletedAt time.Time      `json:"completed_at"`
	Data        map[string]any `json:"data"`
	Summary     string         `json:"summary,omitempty"`
	Metadata    Metadata       `json:"metadata"`
}

// Metadata carries session-level statistics alongside the field data.
type Metadata struct {
	DurationSeconds      int                 `json:"duration_seconds"`
	CompletionPercentage int                 `json:"completion_percentage"`
	FieldsCompleted      int                 `json:"fields_completed"`
	TotalFields          int                 `json:"total_fields"`
	ConversationMetrics  ConversationMetrics `json:"conversation_metrics"`
}

// ConversationMetrics summarizes the transcript without including it.
type ConversationMetrics struct {
	TotalInteractions int `json:"total_interactions"`
}

// BuildPayload assembles the delivery body from a completed session and
// its schema.
func BuildPayload(sess *session.Session, schema *form.Schema) Payload {
	completedAt := time.Now().UTC()
	if sess.CompletedAt != nil {
		completedAt = *sess.CompletedAt
	}
	data := sess.CollectedData
	if data == nil {
		data = map[string]any{}
	}
	return Payload{
		FormID:      sess.FormID,
		SessionID:   sess.ID,
		CompletedAt: completedAt,
		Data:        data,
		Summary:     sess.Summary,
		Metadata: Metadata{
			DurationSeconds:      sess.DurationSeconds,
			CompletionPercentage: sess.CompletionPercentage(len(schema.Fields)),
			FieldsCompleted:      sess.FieldsCompleted,
			TotalFields:          len(schema.Fields),
			ConversationMetrics: ConversationMetrics{
				TotalInteractions: sess.TotalInteractions,
			},
		},
	}
}
