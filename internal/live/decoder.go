package live

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Decode normalizes one raw backend response into zero or more Events.
// Backend responses are loosely typed: audio, text and function calls show
// up in several possible containers depending on the model and mode, so
// decoding checks each known location in priority order. Unknown shapes
// produce zero events; decoding never fails a session.
func Decode(raw []byte) []Event {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	var events []Event

	content, _ := asMap(lookupFirst(msg, "serverContent", "server_content"))

	events = append(events, decodeAudio(msg, content)...)

	if t, ok := decodeTranscript(msg, content); ok {
		events = append(events, t)
	}

	events = append(events, decodeToolCalls(msg, content)...)
	return events
}

// decodeAudio pulls audio payloads from the top-level data field and from
// inline-data parts of the model turn.
func decodeAudio(msg, content map[string]any) []Event {
	var events []Event
	if s, ok := asString(lookupFirst(msg, "data")); ok {
		if pcm := decodeBase64(s); len(pcm) > 0 {
			events = append(events, AudioChunk{Data: pcm})
		}
	}
	for _, part := range turnParts(content) {
		inline, ok := asMap(lookupFirst(part, "inlineData", "inline_data"))
		if !ok {
			continue
		}
		if mime, ok := asString(lookupFirst(inline, "mimeType", "mime_type")); ok && !strings.HasPrefix(mime, "audio") {
			continue
		}
		if s, ok := asString(lookupFirst(inline, "data")); ok {
			if pcm := decodeBase64(s); len(pcm) > 0 {
				events = append(events, AudioChunk{Data: pcm})
			}
		}
	}
	return events
}

// decodeTranscript checks text locations in priority order: a top-level
// text field, then input/output transcription objects, then the first
// text-bearing part of the model turn.
func decodeTranscript(msg, content map[string]any) (Transcript, bool) {
	if s, ok := asString(lookupFirst(msg, "text")); ok && s != "" {
		return Transcript{Text: s, Speaker: "assistant"}, true
	}
	for _, loc := range []struct {
		keys    []string
		speaker string
	}{
		{[]string{"inputTranscription", "input_transcription"}, "user"},
		{[]string{"outputTranscription", "output_transcription"}, "assistant"},
		{[]string{"transcription"}, "user"},
	} {
		for _, container := range []map[string]any{msg, content} {
			if container == nil {
				continue
			}
			if tr, ok := asMap(lookupFirst(container, loc.keys...)); ok {
				if s, ok := asString(lookupFirst(tr, "text")); ok && s != "" {
					return Transcript{Text: s, Speaker: loc.speaker}, true
				}
			}
		}
	}
	for _, part := range turnParts(content) {
		if s, ok := asString(lookupFirst(part, "text")); ok && s != "" {
			return Transcript{Text: s, Speaker: "assistant"}, true
		}
	}
	return Transcript{}, false
}

// decodeToolCalls accepts a single call, a list of calls, or calls nested
// inside turn parts.
func decodeToolCalls(msg, content map[string]any) []Event {
	var events []Event
	appendCall := func(v any) {
		call, ok := asMap(v)
		if !ok {
			return
		}
		name, ok := asString(lookupFirst(call, "name"))
		if !ok || name == "" {
			return
		}
		args, _ := asMap(lookupFirst(call, "args", "arguments"))
		if args == nil {
			args = map[string]any{}
		}
		events = append(events, ToolCall{Name: name, Args: args})
	}

	if tc, ok := asMap(lookupFirst(msg, "toolCall", "tool_call")); ok {
		if calls, ok := asSlice(lookupFirst(tc, "functionCalls", "function_calls")); ok {
			for _, c := range calls {
				appendCall(c)
			}
		} else {
			appendCall(tc)
		}
	}
	if fc, ok := lookupFirst(msg, "functionCall", "function_call"); ok {
		appendCall(fc)
	}
	if calls, ok := asSlice(lookupFirst(msg, "functionCalls", "function_calls")); ok {
		for _, c := range calls {
			appendCall(c)
		}
	}
	for _, part := range turnParts(content) {
		if fc, ok := lookupFirst(part, "functionCall", "function_call"); ok {
			appendCall(fc)
		}
	}
	return events
}

func turnParts(content map[string]any) []map[string]any {
	if content == nil {
		return nil
	}
	turn, ok := asMap(lookupFirst(content, "modelTurn", "model_turn", "turn"))
	if !ok {
		return nil
	}
	raw, ok := asSlice(lookupFirst(turn, "parts"))
	if !ok {
		return nil
	}
	parts := make([]map[string]any, 0, len(raw))
	for _, p := range raw {
		if m, ok := asMap(p); ok {
			parts = append(parts, m)
		}
	}
	return parts
}

func lookupFirst(m map[string]any, keys ...string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, key := range keys {
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func asMap(v any, ok ...bool) (map[string]any, bool) {
	if len(ok) > 0 && !ok[0] {
		return nil, false
	}
	m, isMap := v.(map[string]any)
	return m, isMap
}

func asSlice(v any, ok ...bool) ([]any, bool) {
	if len(ok) > 0 && !ok[0] {
		return nil, false
	}
	s, isSlice := v.([]any)
	return s, isSlice
}

func asString(v any, ok ...bool) (string, bool) {
	if len(ok) > 0 && !ok[0] {
		return "", false
	}
	s, isString := v.(string)
	return s, isString
}

func decodeBase64(s string) []byte {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b
	}
	return nil
}
