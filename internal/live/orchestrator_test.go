package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceforms/platform/internal/form"
	"github.com/voiceforms/platform/internal/session"
)

type fakeBackend struct {
	conn       *fakeBackendConn
	connectErr error
}

func (b *fakeBackend) Connect(_ context.Context, _ ConnectRequest) (Conn, error) {
	if b.connectErr != nil {
		return nil, b.connectErr
	}
	return b.conn, nil
}

type fakeBackendConn struct {
	messages chan []byte

	mu        sync.Mutex
	sentAudio [][]byte
	sentText  []string
	closed    bool
	readErr   error
}

func newFakeBackendConn() *fakeBackendConn {
	return &fakeBackendConn{messages: make(chan []byte, 64)}
}

func (c *fakeBackendConn) SendAudio(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentAudio = append(c.sentAudio, pcm)
	return nil
}

func (c *fakeBackendConn) SendText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentText = append(c.sentText, text)
	return nil
}

func (c *fakeBackendConn) Messages() <-chan []byte { return c.messages }

func (c *fakeBackendConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *fakeBackendConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type wsFrame struct {
	typ  int
	data []byte
}

type fakeClient struct {
	in        chan wsFrame
	abort     chan struct{}
	abortOnce sync.Once

	mu     sync.Mutex
	events []map[string]any
	binary [][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{in: make(chan wsFrame, 64), abort: make(chan struct{})}
}

func (c *fakeClient) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return f.typ, f.data, nil
	case <-c.abort:
		return 0, nil, errors.New("read deadline exceeded")
	}
}

func (c *fakeClient) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageType == websocket.BinaryMessage {
		c.binary = append(c.binary, data)
		return nil
	}
	var event map[string]any
	if err := json.Unmarshal(data, &event); err == nil {
		c.events = append(c.events, event)
	}
	return nil
}

func (c *fakeClient) SetReadDeadline(time.Time) error {
	c.abortOnce.Do(func() { close(c.abort) })
	return nil
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) sendBinary(pcm []byte) { c.in <- wsFrame{websocket.BinaryMessage, pcm} }

func (c *fakeClient) sendText(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- wsFrame{websocket.TextMessage, data}
}

func (c *fakeClient) eventsOfType(typ string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, e := range c.events {
		if e["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}

type fakeCompleter struct {
	mu        sync.Mutex
	calls     int
	collected map[string]any
	summary   string
	err       error
}

func (f *fakeCompleter) Complete(_ context.Context, sess *session.Session, _ *form.Schema, collected map[string]any, summary string) (map[string]any, string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.collected = collected
	f.summary = summary
	if f.err != nil {
		return nil, "", 0, f.err
	}
	for k, v := range collected {
		sess.SetField(k, v)
	}
	sess.MarkCompleted()
	return collected, summary, 90, nil
}

func newTestOrchestrator(t *testing.T, backend Backend, completer Completer) (*Orchestrator, *session.Session, *session.MemoryStore) {
	t.Helper()
	schema := &form.Schema{
		FormID: "f_1",
		Name:   "Feedback",
		Fields: []form.Field{
			{Name: "satisfaction", Type: form.FieldNumber, Required: true, Prompt: "Rate 1-10"},
		},
	}
	sess := session.New("s_1", "f_1", time.Hour)
	store := session.NewMemoryStore()
	require.NoError(t, store.SaveSchema(context.Background(), schema))
	require.NoError(t, store.SaveSession(context.Background(), sess))

	o, err := NewOrchestrator(OrchestratorConfig{
		Session:   sess,
		Schema:    schema,
		Store:     store,
		Backend:   backend,
		Completer: completer,
		Silence: SilenceConfig{
			PollInterval:       5 * time.Millisecond,
			Timeout:            50 * time.Millisecond,
			AmplitudeThreshold: 120,
			BackendQuietWindow: 20 * time.Millisecond,
			GracePeriod:        10 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	return o, sess, store
}

func runOrchestrator(t *testing.T, o *Orchestrator, client ClientConn) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), client) }()
	return done
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not finish")
		return nil
	}
}

func TestOrchestratorSaveFieldThenSilence(t *testing.T) {
	conn := newFakeBackendConn()
	backend := &fakeBackend{conn: conn}
	completer := &fakeCompleter{}
	o, sess, _ := newTestOrchestrator(t, backend, completer)
	client := newFakeClient()

	done := runOrchestrator(t, o, client)

	// One loud frame so speech is registered, then silence.
	client.sendBinary(pcmFrame(2000, 160))
	conn.messages <- []byte(`{"toolCall":{"functionCalls":[{"name":"save_field","args":{"field_name":"satisfaction","value":8}}]}}`)

	require.NoError(t, waitDone(t, done))

	assert.Equal(t, 1, completer.calls)
	assert.Equal(t, float64(8), completer.collected["satisfaction"])
	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, StateClosed, o.State())

	completed := client.eventsOfType("completed")
	require.Len(t, completed, 1)
	data := completed[0]["data"].(map[string]any)
	assert.Equal(t, float64(8), data["satisfaction"])

	progress := client.eventsOfType("progress")
	require.NotEmpty(t, progress)
	assert.Equal(t, float64(100), progress[0]["percent"])
}

func TestOrchestratorManualComplete(t *testing.T) {
	conn := newFakeBackendConn()
	completer := &fakeCompleter{}
	o, _, _ := newTestOrchestrator(t, &fakeBackend{conn: conn}, completer)
	client := newFakeClient()

	done := runOrchestrator(t, o, client)

	// Wait for the ready event so streaming is up before completing.
	require.Eventually(t, func() bool {
		return len(client.eventsOfType("ready")) == 1
	}, time.Second, 5*time.Millisecond)

	client.sendText(t, map[string]any{"type": "manual_complete"})

	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 1, completer.calls, "completion bypasses the silence timeout")
	assert.Len(t, client.eventsOfType("completed"), 1)
}

func TestOrchestratorCompleteFormTool(t *testing.T) {
	conn := newFakeBackendConn()
	completer := &fakeCompleter{}
	o, _, _ := newTestOrchestrator(t, &fakeBackend{conn: conn}, completer)
	client := newFakeClient()

	done := runOrchestrator(t, o, client)

	conn.messages <- []byte(`{"toolCall":{"functionCalls":[
		{"name":"submit_form_summary","args":{"summary_text":"rated 8","function_call_json_text":"{\"satisfaction\": 8}"}},
		{"name":"complete_form","args":{}}
	]}}`)

	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 1, completer.calls)
	assert.Equal(t, "rated 8", completer.summary)
	assert.Equal(t, float64(8), completer.collected["satisfaction"])
	assert.Len(t, client.eventsOfType("summary_submitted"), 1)
}

func TestOrchestratorClientDisconnectLeavesSessionResumable(t *testing.T) {
	conn := newFakeBackendConn()
	completer := &fakeCompleter{}
	o, _, store := newTestOrchestrator(t, &fakeBackend{conn: conn}, completer)
	client := newFakeClient()

	done := runOrchestrator(t, o, client)

	client.sendBinary(pcmFrame(2000, 160))
	conn.messages <- []byte(`{"toolCall":{"functionCalls":[{"name":"save_field","args":{"field_name":"satisfaction","value":7}}]}}`)
	require.Eventually(t, func() bool {
		return len(client.eventsOfType("progress")) == 1
	}, time.Second, 5*time.Millisecond)

	close(client.in) // client drops the websocket

	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 0, completer.calls, "disconnect must not complete the session")
	assert.Empty(t, client.eventsOfType("completed"))

	saved, err := store.GetSession(context.Background(), "s_1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, saved.Status)
	assert.Equal(t, float64(7), saved.CollectedData["satisfaction"], "progress persisted for resume")
}

func TestOrchestratorBackendConnectFailure(t *testing.T) {
	completer := &fakeCompleter{}
	o, _, _ := newTestOrchestrator(t, &fakeBackend{connectErr: errors.New("dial refused")}, completer)
	client := newFakeClient()

	err := waitDone(t, runOrchestrator(t, o, client))
	require.Error(t, err)
	assert.Equal(t, StateError, o.State())
	assert.Len(t, client.eventsOfType("error"), 1, "client always gets a terminal event")
}

func TestOrchestratorBackendStreamFailure(t *testing.T) {
	conn := newFakeBackendConn()
	completer := &fakeCompleter{}
	o, _, _ := newTestOrchestrator(t, &fakeBackend{conn: conn}, completer)
	client := newFakeClient()

	done := runOrchestrator(t, o, client)

	conn.mu.Lock()
	conn.readErr = errors.New("stream reset")
	conn.mu.Unlock()
	close(conn.messages)

	err := waitDone(t, done)
	require.Error(t, err)
	assert.Equal(t, StateError, o.State())
	assert.Len(t, client.eventsOfType("error"), 1)
	assert.Equal(t, 0, completer.calls)
}

func TestOrchestratorAudioAndTranscriptFlow(t *testing.T) {
	conn := newFakeBackendConn()
	completer := &fakeCompleter{}
	o, sess, _ := newTestOrchestrator(t, &fakeBackend{conn: conn}, completer)
	client := newFakeClient()

	done := runOrchestrator(t, o, client)

	// Client microphone audio reaches the backend.
	client.sendBinary(pcmFrame(50, 160))
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.sentAudio) == 1
	}, time.Second, 5*time.Millisecond)

	// Backend audio reaches the client as binary frames.
	pcm := []byte{0x10, 0x20}
	conn.messages <- []byte(`{"data":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`)
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.binary) == 1
	}, time.Second, 5*time.Millisecond)

	// Transcripts are forwarded and recorded.
	conn.messages <- []byte(`{"serverContent":{"inputTranscription":{"text":"my rating is eight"}}}`)
	require.Eventually(t, func() bool {
		return len(client.eventsOfType("transcript")) == 1
	}, time.Second, 5*time.Millisecond)

	// Typed user messages go to the backend as text.
	client.sendText(t, map[string]any{"type": "user_transcript", "text": "eight"})
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.sentText) == 1
	}, time.Second, 5*time.Millisecond)

	close(client.in)
	require.NoError(t, waitDone(t, done))

	o.sessMu.Lock()
	history := append([]session.Message(nil), sess.Conversation...)
	o.sessMu.Unlock()
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "my rating is eight", history[0].Text)
}

func TestNewOrchestratorPreconditions(t *testing.T) {
	schema := &form.Schema{FormID: "f_1", Fields: []form.Field{{Name: "a", Type: form.FieldText}}}
	store := session.NewMemoryStore()
	backend := &fakeBackend{conn: newFakeBackendConn()}
	completer := &fakeCompleter{}

	expired := session.New("s_old", "f_1", -time.Minute)
	_, err := NewOrchestrator(OrchestratorConfig{
		Session: expired, Schema: schema, Store: store, Backend: backend, Completer: completer,
	})
	assert.ErrorIs(t, err, ErrSessionExpired)

	completed := session.New("s_done", "f_1", time.Hour)
	completed.MarkCompleted()
	_, err = NewOrchestrator(OrchestratorConfig{
		Session: completed, Schema: schema, Store: store, Backend: backend, Completer: completer,
	})
	assert.ErrorIs(t, err, ErrSessionCompleted)
}
