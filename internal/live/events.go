package live

import (
	"fmt"
	"strings"
)

// Event is the normalized union of backend response shapes. Events are
// transient: they flow through the orchestrator and are never persisted.
type Event interface {
	eventType() string
}

// AudioChunk is synthesized audio bound for the client.
type AudioChunk struct {
	Data []byte
}

func (AudioChunk) eventType() string { return "audio_chunk" }

// Transcript is recognized or generated text attributed to a speaker.
type Transcript struct {
	Text    string
	Speaker string // "user" or "assistant"
}

func (Transcript) eventType() string { return "transcript" }

// ToolCall is a structured function-style instruction from the backend.
type ToolCall struct {
	Name string
	Args map[string]any
}

func (ToolCall) eventType() string { return "tool_call" }

// ArgString returns the first argument matching any of the given names,
// compared case-insensitively. Backends are inconsistent about argument
// naming (field_name vs fieldName vs name), so callers list every alias.
func (c ToolCall) ArgString(names ...string) (string, bool) {
	v, ok := c.Arg(names...)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case nil:
		return "", false
	default:
		return fmt.Sprint(s), true
	}
}

// Arg returns the raw argument value for any of the given aliases.
func (c ToolCall) Arg(names ...string) (any, bool) {
	for _, name := range names {
		if v, ok := c.Args[name]; ok {
			return v, true
		}
	}
	for key, v := range c.Args {
		for _, name := range names {
			if strings.EqualFold(key, name) {
				return v, true
			}
		}
	}
	return nil, false
}
