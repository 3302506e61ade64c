package form

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldType enumerates the supported answer types.
type FieldType string

const (
	FieldText        FieldType = "text"
	FieldNumber      FieldType = "number"
	FieldEmail       FieldType = "email"
	FieldPhone       FieldType = "phone"
	FieldDate        FieldType = "date"
	FieldBoolean     FieldType = "boolean"
	FieldChoice      FieldType = "choice"
	FieldMultiChoice FieldType = "multi_choice"
)

// Field is one question in a form schema.
type Field struct {
	// Name is the unique key under which the answer is collected.
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	// Prompt is the question the assistant asks for this field.
	Prompt     string         `json:"prompt"`
	Validation map[string]any `json:"validation,omitempty"`
}

// Schema is the ordered field list plus form identity and callback
// configuration. It is immutable for the lifetime of a session.
type Schema struct {
	FormID         string  `json:"form_id"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	OpeningPrompt  string  `json:"opening_prompt,omitempty"`
	SuccessMessage string  `json:"success_message,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	Fields         []Field `json:"fields"`

	CallbackURL    string `json:"callback_url,omitempty"`
	CallbackMethod string `json:"callback_method,omitempty"`
	WebhookSecret  string `json:"webhook_secret,omitempty"`
}

var validTypes = map[FieldType]struct{}{
	FieldText: {}, FieldNumber: {}, FieldEmail: {}, FieldPhone: {},
	FieldDate: {}, FieldBoolean: {}, FieldChoice: {}, FieldMultiChoice: {},
}

// Validate checks structural invariants: non-empty ordered field list,
// unique names, known types.
func (s *Schema) Validate() error {
	if len(s.Fields) == 0 {
		return errors.New("form: schema has no fields")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return errors.New("form: field name is required")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("form: duplicate field name %q", name)
		}
		seen[name] = struct{}{}
		if _, ok := validTypes[f.Type]; !ok {
			return fmt.Errorf("form: field %q has unknown type %q", name, f.Type)
		}
	}
	return nil
}

// Lookup returns the field with the given name.
func (s *Schema) Lookup(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns field names in schema order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// RequiredComplete reports whether every required field has a non-nil value
// in collected.
func (s *Schema) RequiredComplete(collected map[string]any) bool {
	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		v, ok := collected[f.Name]
		if !ok || v == nil {
			return false
		}
	}
	return true
}

// ValidateValue checks a candidate answer against the field definition.
// A nil value is valid only for optional fields.
func (f Field) ValidateValue(value any) error {
	if value == nil || value == "" {
		if f.Required {
			return fmt.Errorf("form: field %q is required", f.Name)
		}
		return nil
	}

	switch f.Type {
	case FieldNumber:
		n, err := toFloat(value)
		if err != nil {
			return fmt.Errorf("form: field %q must be a number", f.Name)
		}
		if min, ok := toFloatOK(f.Validation["min"]); ok && n < min {
			return fmt.Errorf("form: field %q must be at least %v", f.Name, min)
		}
		if max, ok := toFloatOK(f.Validation["max"]); ok && n > max {
			return fmt.Errorf("form: field %q must be at most %v", f.Name, max)
		}
	case FieldEmail:
		s := fmt.Sprint(value)
		if !strings.Contains(s, "@") || !strings.Contains(s, ".") {
			return fmt.Errorf("form: field %q has invalid email format", f.Name)
		}
	case FieldPhone:
		digits := 0
		for _, r := range fmt.Sprint(value) {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits < 10 {
			return fmt.Errorf("form: field %q has invalid phone number", f.Name)
		}
	case FieldChoice, FieldMultiChoice:
		options := optionStrings(f.Validation["options"])
		if len(options) == 0 {
			return nil
		}
		for _, candidate := range valueStrings(value) {
			if !containsFold(options, candidate) {
				return fmt.Errorf("form: field %q must be one of: %s", f.Name, strings.Join(options, ", "))
			}
		}
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("form: not numeric: %T", v)
	}
}

func toFloatOK(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	n, err := toFloat(v)
	return n, err == nil
}

func optionStrings(v any) []string {
	switch opts := v.(type) {
	case []string:
		return opts
	case []any:
		out := make([]string, 0, len(opts))
		for _, o := range opts {
			out = append(out, fmt.Sprint(o))
		}
		return out
	default:
		return nil
	}
}

func valueStrings(v any) []string {
	switch vals := v.(type) {
	case []any:
		out := make([]string, 0, len(vals))
		for _, x := range vals {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case []string:
		return vals
	default:
		return []string{fmt.Sprint(v)}
	}
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(needle)) {
			return true
		}
	}
	return false
}

// NewFormID generates a form identifier of the shape "f_<token>".
func NewFormID() string { return "f_" + randomToken(12) }

// NewSessionID generates a session identifier of the shape "s_<token>".
func NewSessionID() string { return "s_" + randomToken(12) }

// NewWebhookSecret generates a webhook signing secret of the shape "wh_<token>".
func NewWebhookSecret() string { return "wh_" + randomToken(32) }

func randomToken(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
