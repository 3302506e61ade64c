package live

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTopLevelAudio(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	raw := []byte(`{"data":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`)

	events := Decode(raw)
	require.Len(t, events, 1)
	chunk, ok := events[0].(AudioChunk)
	require.True(t, ok)
	assert.Equal(t, pcm, chunk.Data)
}

func TestDecodeInlineDataAudio(t *testing.T) {
	pcm := []byte{0xAA, 0xBB}
	raw := []byte(`{"serverContent":{"modelTurn":{"parts":[
		{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` +
		base64.StdEncoding.EncodeToString(pcm) + `"}},
		{"inlineData":{"mimeType":"image/png","data":"aWdub3JlZA=="}}
	]}}}`)

	events := Decode(raw)
	require.Len(t, events, 1, "non-audio inline data is skipped")
	chunk, ok := events[0].(AudioChunk)
	require.True(t, ok)
	assert.Equal(t, pcm, chunk.Data)
}

func TestDecodeTranscriptPriority(t *testing.T) {
	// Top-level text wins over everything else.
	events := Decode([]byte(`{"text":"hello","serverContent":{"modelTurn":{"parts":[{"text":"ignored"}]}}}`))
	require.Len(t, events, 1)
	assert.Equal(t, Transcript{Text: "hello", Speaker: "assistant"}, events[0])

	// Input transcription is attributed to the user.
	events = Decode([]byte(`{"serverContent":{"inputTranscription":{"text":"my name is Alice"}}}`))
	require.Len(t, events, 1)
	assert.Equal(t, Transcript{Text: "my name is Alice", Speaker: "user"}, events[0])

	// Output transcription is attributed to the assistant.
	events = Decode([]byte(`{"serverContent":{"outputTranscription":{"text":"thanks Alice"}}}`))
	require.Len(t, events, 1)
	assert.Equal(t, Transcript{Text: "thanks Alice", Speaker: "assistant"}, events[0])

	// Falls back to the first text-bearing turn part.
	events = Decode([]byte(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":""}},{"text":"part text"}]}}}`))
	require.Len(t, events, 1)
	assert.Equal(t, Transcript{Text: "part text", Speaker: "assistant"}, events[0])
}

func TestDecodeToolCallShapes(t *testing.T) {
	// List of calls under toolCall.functionCalls.
	events := Decode([]byte(`{"toolCall":{"functionCalls":[
		{"name":"save_field","args":{"field_name":"email","value":"a@b.com"}},
		{"name":"complete_form","args":{}}
	]}}`))
	require.Len(t, events, 2)
	first, ok := events[0].(ToolCall)
	require.True(t, ok)
	assert.Equal(t, "save_field", first.Name)
	assert.Equal(t, "a@b.com", first.Args["value"])
	second, ok := events[1].(ToolCall)
	require.True(t, ok)
	assert.Equal(t, "complete_form", second.Name)

	// Single call at the top level.
	events = Decode([]byte(`{"functionCall":{"name":"save_field","args":{"fieldName":"age","value":30}}}`))
	require.Len(t, events, 1)
	call := events[0].(ToolCall)
	assert.Equal(t, "save_field", call.Name)

	// Calls nested in turn parts.
	events = Decode([]byte(`{"serverContent":{"modelTurn":{"parts":[{"functionCall":{"name":"submit_form_summary","args":{"summary_text":"done"}}}]}}}`))
	require.Len(t, events, 1)
	call = events[0].(ToolCall)
	assert.Equal(t, "submit_form_summary", call.Name)
}

func TestDecodeSnakeCaseContainers(t *testing.T) {
	events := Decode([]byte(`{"server_content":{"model_turn":{"parts":[{"text":"snake"}]}}}`))
	require.Len(t, events, 1)
	assert.Equal(t, Transcript{Text: "snake", Speaker: "assistant"}, events[0])
}

func TestDecodeUnknownShapes(t *testing.T) {
	assert.Empty(t, Decode([]byte(`{"setupComplete":{}}`)))
	assert.Empty(t, Decode([]byte(`{"usageMetadata":{"totalTokens":42}}`)))
	assert.Empty(t, Decode([]byte(`not json at all`)))
	assert.Empty(t, Decode([]byte(`{"toolCall":{"functionCalls":[{"args":{"value":1}}]}}`)), "calls without a name are dropped")
}

func TestDecodeMixedMessage(t *testing.T) {
	pcm := base64.StdEncoding.EncodeToString([]byte{0x01})
	events := Decode([]byte(`{
		"serverContent":{
			"modelTurn":{"parts":[
				{"inlineData":{"mimeType":"audio/pcm","data":"` + pcm + `"}},
				{"text":"saving that"},
				{"functionCall":{"name":"save_field","args":{"name":"city","value":"Dayton"}}}
			]}
		}
	}`))
	require.Len(t, events, 3)
	_, isAudio := events[0].(AudioChunk)
	assert.True(t, isAudio)
	_, isTranscript := events[1].(Transcript)
	assert.True(t, isTranscript)
	call, isCall := events[2].(ToolCall)
	require.True(t, isCall)

	name, ok := call.ArgString("field_name", "fieldName", "name")
	require.True(t, ok)
	assert.Equal(t, "city", name)
}

func TestToolCallArgAliases(t *testing.T) {
	call := ToolCall{Args: map[string]any{"FieldName": "email", "Value": 8}}

	name, ok := call.ArgString("field_name", "fieldName", "name")
	require.True(t, ok, "argument lookup is case-insensitive")
	assert.Equal(t, "email", name)

	v, ok := call.Arg("value")
	require.True(t, ok)
	assert.Equal(t, 8, v)

	_, ok = call.ArgString("summary_text")
	assert.False(t, ok)
}
