package live

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/voiceforms/platform/internal/form"
	"github.com/voiceforms/platform/pkg/logging"
)

// Tool names the backend is declared with.
const (
	ToolSaveField         = "save_field"
	ToolSubmitFormSummary = "submit_form_summary"
	ToolCompleteForm      = "complete_form"
)

// ToolHandler interprets decoded tool calls against the running collected
// data. Values arriving through save_field are higher-confidence than
// summary-carried values, so summary merges never overwrite them.
type ToolHandler struct {
	schema *form.Schema
	logger *logging.Logger

	onProgress func(completed, total int)
	onSummary  func(summary string)
	onComplete func()

	mu          sync.Mutex
	collected   map[string]any
	summary     string
	summaryOnce sync.Once
	summaryCh   chan struct{}
}

// NewToolHandler creates a handler seeded with any values already
// collected on the session (reconnects resume mid-interview).
func NewToolHandler(schema *form.Schema, seed map[string]any, logger *logging.Logger) *ToolHandler {
	if logger == nil {
		logger = logging.Default()
	}
	collected := make(map[string]any, len(seed))
	for k, v := range seed {
		if _, ok := schema.Lookup(k); ok {
			collected[k] = v
		}
	}
	return &ToolHandler{
		schema:    schema,
		logger:    logger,
		collected: collected,
		summaryCh: make(chan struct{}),
	}
}

// OnProgress registers a callback fired after each save_field upsert.
func (h *ToolHandler) OnProgress(fn func(completed, total int)) { h.onProgress = fn }

// OnSummary registers a callback fired when a summary is submitted.
func (h *ToolHandler) OnSummary(fn func(summary string)) { h.onSummary = fn }

// OnComplete registers the completion trigger for complete_form.
func (h *ToolHandler) OnComplete(fn func()) { h.onComplete = fn }

// SummarySubmitted is closed once a summary tool call has landed. The
// silence monitor uses it to resolve its grace wait early.
func (h *ToolHandler) SummarySubmitted() <-chan struct{} { return h.summaryCh }

// Handle dispatches one tool call. Malformed calls are logged and skipped;
// they never fail the session.
func (h *ToolHandler) Handle(_ context.Context, call ToolCall) {
	switch strings.ToLower(strings.TrimSpace(call.Name)) {
	case ToolSaveField:
		h.saveField(call)
	case ToolSubmitFormSummary:
		h.submitSummary(call)
	case ToolCompleteForm:
		h.logger.Info("backend requested completion via tool call")
		if h.onComplete != nil {
			h.onComplete()
		}
	default:
		h.logger.Warn("unknown tool call skipped", "tool", call.Name)
	}
}

func (h *ToolHandler) saveField(call ToolCall) {
	name, ok := call.ArgString("field_name", "fieldName", "name")
	if !ok || name == "" {
		h.logger.Warn("save_field call missing field name, skipped")
		return
	}
	if _, known := h.schema.Lookup(name); !known {
		h.logger.Warn("save_field call for field outside schema, skipped", "field", name)
		return
	}
	value, _ := call.Arg("value", "field_value")

	h.mu.Lock()
	h.collected[name] = value
	completed := countNonNil(h.collected)
	h.mu.Unlock()

	h.logger.Info("field saved", "field", name, "completed", completed, "total", len(h.schema.Fields))
	if h.onProgress != nil {
		h.onProgress(completed, len(h.schema.Fields))
	}
}

func (h *ToolHandler) submitSummary(call ToolCall) {
	summary, _ := call.ArgString("summary_text", "summaryText", "summary")
	jsonText, hasJSON := call.ArgString("function_call_json_text", "functionCallJsonText", "fields_json")

	h.mu.Lock()
	if summary != "" {
		h.summary = summary
	}
	if hasJSON && jsonText != "" {
		var fields map[string]any
		if err := json.Unmarshal([]byte(jsonText), &fields); err != nil {
			h.logger.Warn("summary field payload is not valid JSON, merge skipped", "error", err)
		} else {
			for name, value := range fields {
				if _, known := h.schema.Lookup(name); !known {
					continue
				}
				// save_field values win over summary-carried values.
				if existing, set := h.collected[name]; set && existing != nil {
					continue
				}
				h.collected[name] = value
			}
		}
	}
	h.mu.Unlock()

	h.logger.Info("form summary submitted", "has_fields_json", hasJSON)
	h.summaryOnce.Do(func() { close(h.summaryCh) })
	if h.onSummary != nil {
		h.onSummary(summary)
	}
}

// Snapshot returns a copy of the collected values and the summary text.
func (h *ToolHandler) Snapshot() (map[string]any, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]any, len(h.collected))
	for k, v := range h.collected {
		out[k] = v
	}
	return out, h.summary
}

// Progress returns collected/total field counts.
func (h *ToolHandler) Progress() (completed, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return countNonNil(h.collected), len(h.schema.Fields)
}

func countNonNil(m map[string]any) int {
	n := 0
	for _, v := range m {
		if v != nil {
			n++
		}
	}
	return n
}
