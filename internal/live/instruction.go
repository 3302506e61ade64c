package live

import (
	"fmt"
	"strings"

	"github.com/voiceforms/platform/internal/form"
)

// BuildSystemInstruction renders the interviewer instruction from the form
// schema: the ordered field list with required/optional tags plus the
// conversational ground rules.
func BuildSystemInstruction(schema *form.Schema) string {
	lines := make([]string, 0, len(schema.Fields))
	for i, f := range schema.Fields {
		req := "optional"
		if f.Required {
			req = "REQUIRED"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%s, %s): %s", i+1, f.Name, f.Type, req, f.Prompt))
	}

	opening := schema.OpeningPrompt
	if opening == "" {
		opening = "Hello! Let me ask you some questions."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are conducting a voice form interview for: %s\n\n", schema.Name)
	b.WriteString(opening)
	b.WriteString("\n\nYou need to collect the following information by asking questions ONE AT A TIME:\n\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString(`

CRITICAL INSTRUCTIONS:
1. IMMEDIATELY greet the user and ask question 1 - don't wait for them to speak first!
2. Ask questions in order, ONE question at a time
3. WAIT for the user's complete response before asking the next question
4. Be friendly, warm, and conversational
5. If a response is unclear, politely ask for clarification
6. Briefly confirm each answer before moving to the next question
7. Call save_field after every confirmed answer
8. After ALL questions are answered, call submit_form_summary, then complete_form, and thank the user
9. Keep responses brief and natural

START NOW by greeting the user and asking question 1!`)
	return b.String()
}

// ToolDeclarations returns the function declarations announced to the
// backend at connect time, in the wire shape the setup message expects.
func ToolDeclarations() []map[string]any {
	return []map[string]any{
		{
			"functionDeclarations": []map[string]any{
				{
					"name":        ToolSaveField,
					"description": "Save a single confirmed form field value",
					"parameters": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"field_name": map[string]any{
								"type":        "string",
								"description": "The schema name of the field to save",
							},
							"value": map[string]any{
								"type":        "string",
								"description": "The confirmed value for the field",
							},
						},
						"required": []string{"field_name", "value"},
					},
				},
				{
					"name":        ToolSubmitFormSummary,
					"description": "Submit a short interview summary plus all collected fields as JSON",
					"parameters": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"summary_text": map[string]any{
								"type":        "string",
								"description": "Two or three sentence summary of the interview",
							},
							"function_call_json_text": map[string]any{
								"type":        "string",
								"description": "JSON object mapping field names to collected values",
							},
						},
						"required": []string{"summary_text"},
					},
				},
				{
					"name":        ToolCompleteForm,
					"description": "Mark the interview complete once every question is answered",
					"parameters": map[string]any{
						"type":       "object",
						"properties": map[string]any{},
					},
				},
			},
		},
	}
}
