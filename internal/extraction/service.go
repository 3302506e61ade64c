package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/voiceforms/platform/internal/form"
	"github.com/voiceforms/platform/internal/session"
	"github.com/voiceforms/platform/pkg/logging"
)

// Service derives the final field map and summary for a completed
// interview and persists the result. The primary path asks the text-mode
// backend to extract values from the transcript; when that fails the
// service falls back deterministically to whatever the tool calls
// collected.
type Service struct {
	llm    LLMClient
	store  session.Store
	logger *logging.Logger
}

// NewService creates the completion service. llm may be nil, in which
// case every completion takes the deterministic fallback path.
func NewService(llm LLMClient, store session.Store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{llm: llm, store: store, logger: logger.Component("extraction")}
}

type extractionResult struct {
	Fields     map[string]any `json:"fields"`
	Summary    string         `json:"summary"`
	Confidence float64        `json:"confidence"`
}

// Complete finalizes the session: derives fields and a summary, merges
// them under tool-call precedence, persists the record and enqueues
// webhook delivery. Completing an already-completed session is an
// idempotent no-op returning the persisted values.
func (s *Service) Complete(ctx context.Context, sess *session.Session, schema *form.Schema, collected map[string]any, summary string) (map[string]any, string, int, error) {
	if sess.Status == session.StatusCompleted {
		s.logger.Info("completion requested on completed session, returning persisted result", "session_id", sess.ID)
		return sess.CollectedData, sess.Summary, 100, nil
	}

	fields, finalSummary, confidence := s.extract(ctx, sess, schema, collected, summary)

	for name, value := range fields {
		sess.SetField(name, value)
	}
	sess.Summary = finalSummary
	sess.MarkCompleted()

	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, "", 0, fmt.Errorf("extraction: persist completed session: %w", err)
	}
	if schema.CallbackURL != "" {
		if err := s.store.EnqueueDelivery(ctx, sess.ID); err != nil {
			// Delivery trouble never affects completion semantics.
			s.logger.Error("failed to enqueue webhook delivery", "session_id", sess.ID, "error", err)
		}
	}

	s.logger.Info("session completed",
		"session_id", sess.ID,
		"fields_completed", sess.FieldsCompleted,
		"confidence", confidence)
	return fields, finalSummary, confidence, nil
}

// extract runs the primary LLM path with the deterministic fallback.
// Tool-call values always win over transcript-inferred values.
func (s *Service) extract(ctx context.Context, sess *session.Session, schema *form.Schema, collected map[string]any, summary string) (map[string]any, string, int) {
	fields := make(map[string]any, len(collected))
	for k, v := range collected {
		fields[k] = v
	}

	if s.llm != nil && len(sess.Conversation) > 0 {
		raw, err := s.llm.Generate(ctx, buildPrompt(sess, schema))
		if err != nil {
			s.logger.Warn("llm extraction unavailable, using fallback", "session_id", sess.ID, "error", err)
		} else if result, ok := parseExtraction(raw, schema); ok {
			for name, value := range result.Fields {
				if existing, set := fields[name]; set && existing != nil {
					continue // direct tool-call values are higher-confidence
				}
				fields[name] = value
			}
			finalSummary := summary
			if finalSummary == "" {
				finalSummary = result.Summary
			}
			if finalSummary == "" {
				finalSummary = fallbackSummary(fields, sess)
			}
			return fields, finalSummary, clampConfidence(result.Confidence)
		} else {
			s.logger.Warn("llm extraction returned unparseable output, using fallback", "session_id", sess.ID)
		}
	}

	finalSummary := summary
	if finalSummary == "" {
		finalSummary = fallbackSummary(fields, sess)
	}
	confidence := 0
	if len(fields) > 0 {
		confidence = 60 // tool-call data is present but unreviewed
	}
	return fields, finalSummary, confidence
}

func buildPrompt(sess *session.Session, schema *form.Schema) string {
	var b strings.Builder
	b.WriteString("Extract form field values from this interview transcript.\n\nFields to extract:\n")
	for _, f := range schema.Fields {
		fmt.Fprintf(&b, "- %s (%s)", f.Name, f.Type)
		if f.Required {
			b.WriteString(" [required]")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nTranscript:\n")
	for _, msg := range sess.Conversation {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Text)
	}
	b.WriteString(`
Respond with ONLY a JSON object of this exact shape:
{"fields": {"<field_name>": <value or null>}, "summary": "<2-3 sentence summary>", "confidence": <0-100>}`)
	return b.String()
}

// parseExtraction tolerates prose around the JSON object by scanning the
// outermost brace window. Keys outside the schema are dropped.
func parseExtraction(raw string, schema *form.Schema) (extractionResult, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return extractionResult{}, false
	}
	var result extractionResult
	if err := json.Unmarshal([]byte(raw[start:end+1]), &result); err != nil {
		return extractionResult{}, false
	}
	filtered := make(map[string]any, len(result.Fields))
	for name, value := range result.Fields {
		if _, ok := schema.Lookup(name); !ok {
			continue
		}
		if value == nil {
			continue
		}
		filtered[name] = value
	}
	result.Fields = filtered
	return result, true
}

// fallbackSummary synthesizes a summary from collected values, or a
// generic message-count line when nothing was collected.
func fallbackSummary(fields map[string]any, sess *session.Session) string {
	if len(fields) > 0 {
		pairs := make([]string, 0, len(fields))
		for _, name := range sortedKeys(fields) {
			pairs = append(pairs, fmt.Sprintf("%s: %v", name, fields[name]))
		}
		return strings.Join(pairs, ", ")
	}
	return fmt.Sprintf("%d messages captured", len(sess.Conversation))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clampConfidence(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}
