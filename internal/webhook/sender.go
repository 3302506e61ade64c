package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voiceforms/platform/internal/form"
	"github.com/voiceforms/platform/internal/observability/metrics"
	"github.com/voiceforms/platform/internal/session"
	"github.com/voiceforms/platform/pkg/logging"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "VoiceForms-Webhook/1.0"
	maxResponseBytes = 4 << 10
)

// Sender posts one signed delivery attempt to a form's callback endpoint
// and records the attempt append-only. Retry policy lives in the worker.
type Sender struct {
	client    *http.Client
	store     session.Store
	metrics   *metrics.WebhookMetrics
	userAgent string
	logger    *logging.Logger
}

// NewSender creates a sender with the default 30s per-attempt timeout.
func NewSender(store session.Store, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sender{
		client:    &http.Client{Timeout: defaultTimeout},
		store:     store,
		userAgent: defaultUserAgent,
		logger:    logger.Component("webhook"),
	}
}

// WithTimeout overrides the per-attempt HTTP timeout.
func (s *Sender) WithTimeout(d time.Duration) *Sender {
	if d > 0 {
		s.client.Timeout = d
	}
	return s
}

// WithMetrics attaches delivery counters.
func (s *Sender) WithMetrics(m *metrics.WebhookMetrics) *Sender {
	s.metrics = m
	return s
}

// WithUserAgent overrides the User-Agent header on delivery requests.
func (s *Sender) WithUserAgent(ua string) *Sender {
	if ua != "" {
		s.userAgent = ua
	}
	return s
}

// Deliver builds, signs and posts the payload for one attempt. It returns
// the response status code and whether the attempt succeeded (any status
// below 400). Transport failures return an error with success false. The
// attempt record is persisted in every case.
func (s *Sender) Deliver(ctx context.Context, sess *session.Session, schema *form.Schema, attemptNumber int) (int, bool, error) {
	body, err := CanonicalJSON(BuildPayload(sess, schema))
	if err != nil {
		return 0, false, err
	}
	signature := Sign(body, schema.WebhookSecret)

	method := strings.ToUpper(strings.TrimSpace(schema.CallbackMethod))
	if method != http.MethodPut {
		method = http.MethodPost
	}

	attempt := session.WebhookAttempt{
		SessionID:     sess.ID,
		URL:           schema.CallbackURL,
		Method:        method,
		Payload:       body,
		Signature:     signature,
		AttemptNumber: attemptNumber,
		Timestamp:     time.Now().UTC(),
	}

	start := time.Now()
	statusCode, respBody, reqErr := s.post(ctx, method, schema.CallbackURL, body, signature, sess.ID)
	attempt.LatencyMS = time.Since(start).Milliseconds()
	attempt.StatusCode = statusCode
	attempt.ResponseBody = respBody
	attempt.Success = reqErr == nil && statusCode < 400
	if reqErr != nil {
		attempt.ErrorMessage = reqErr.Error()
	}

	s.metrics.ObserveAttempt(attempt.Success, time.Since(start).Seconds())
	if err := s.store.AppendWebhookAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record webhook attempt", "session_id", sess.ID, "error", err)
	}

	if reqErr != nil {
		s.logger.Warn("webhook attempt failed",
			"session_id", sess.ID, "attempt", attemptNumber, "error", reqErr)
		return 0, false, reqErr
	}
	if !attempt.Success {
		s.logger.Warn("webhook endpoint rejected delivery",
			"session_id", sess.ID, "attempt", attemptNumber, "status_code", statusCode)
	}
	return statusCode, attempt.Success, nil
}

func (s *Sender) post(ctx context.Context, method, url string, body []byte, signature, sessionID string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VoiceForm-Signature", signature)
	req.Header.Set("X-VoiceForm-Session-ID", sessionID)
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("webhook: post to callback: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, string(respBody), nil
}
