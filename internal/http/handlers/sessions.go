package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voiceforms/platform/internal/form"
	"github.com/voiceforms/platform/internal/session"
	"github.com/voiceforms/platform/pkg/logging"
)

// SessionsHandler exposes the REST surface around live sessions: form
// registration, session issuance, session status and delivery status.
type SessionsHandler struct {
	store      session.Store
	sessionTTL time.Duration
	logger     *logging.Logger
}

// NewSessionsHandler creates the handler. ttl bounds how long an issued
// session stays connectable.
func NewSessionsHandler(store session.Store, ttl time.Duration, logger *logging.Logger) *SessionsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionsHandler{store: store, sessionTTL: ttl, logger: logger.Component("api")}
}

// CreateForm registers a form schema and returns its generated identity.
// The webhook signing secret is generated server-side and returned exactly
// once, here.
func (h *SessionsHandler) CreateForm(w http.ResponseWriter, r *http.Request) {
	var schema form.Schema
	if err := json.NewDecoder(r.Body).Decode(&schema); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := schema.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	schema.FormID = form.NewFormID()
	if schema.CallbackURL != "" && schema.WebhookSecret == "" {
		schema.WebhookSecret = form.NewWebhookSecret()
	}
	if err := h.store.SaveSchema(r.Context(), &schema); err != nil {
		h.logger.Error("failed to save form schema", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("form registered", "form_id", schema.FormID, "fields", len(schema.Fields))
	writeJSON(w, http.StatusCreated, map[string]any{
		"form_id":        schema.FormID,
		"webhook_secret": schema.WebhookSecret,
	})
}

// CreateSession issues a new session against an existing form.
func (h *SessionsHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")
	if _, err := h.store.GetSchema(r.Context(), formID); err != nil {
		if errors.Is(err, session.ErrSchemaNotFound) {
			http.Error(w, "form not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load form schema", "form_id", formID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	sess := session.New(form.NewSessionID(), formID, h.sessionTTL)
	if err := h.store.SaveSession(r.Context(), sess); err != nil {
		h.logger.Error("failed to save session", "session_id", sess.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("session issued", "session_id", sess.ID, "form_id", formID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"form_id":    formID,
		"expires_at": sess.ExpiresAt,
		"ws_path":    "/ws/sessions/" + sess.ID,
	})
}

// GetSession returns the full session record.
func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load session", "session_id", sessionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type attemptView struct {
	AttemptNumber int       `json:"attempt_number"`
	StatusCode    int       `json:"status_code,omitempty"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	LatencyMS     int64     `json:"latency_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// GetDelivery returns the webhook delivery state plus the attempt log.
func (h *SessionsHandler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	d, err := h.store.GetDelivery(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrDeliveryNotFound) {
			http.Error(w, "no delivery for session", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load delivery", "session_id", sessionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	attempts, err := h.store.ListWebhookAttempts(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to list webhook attempts", "session_id", sessionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]attemptView, len(attempts))
	for i, a := range attempts {
		views[i] = attemptView{
			AttemptNumber: a.AttemptNumber,
			StatusCode:    a.StatusCode,
			Success:       a.Success,
			ErrorMessage:  a.ErrorMessage,
			LatencyMS:     a.LatencyMS,
			Timestamp:     a.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":       d.SessionID,
		"status":           d.Status,
		"attempts":         d.Attempts,
		"next_retry_at":    d.NextRetryAt,
		"last_status_code": d.LastStatusCode,
		"delivered_at":     d.DeliveredAt,
		"attempt_log":      views,
	})
}

// HealthCheck reports liveness.
func (h *SessionsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
