package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceforms/platform/pkg/logging"
)

// Audio formats spoken on the backend connection.
const (
	InputSampleRate  = 16000 // client microphone PCM, s16le mono
	OutputSampleRate = 24000 // synthesized PCM, s16le mono

	liveEndpoint       = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	liveConnectTimeout = 15 * time.Second
)

// ConnectRequest configures one backend connection.
type ConnectRequest struct {
	SystemInstruction string
	Tools             []map[string]any
}

// Backend opens live conversation connections. Exactly one connection is
// opened per session.
type Backend interface {
	Connect(ctx context.Context, req ConnectRequest) (Conn, error)
}

// Conn is one live backend connection. Messages yields raw response
// frames until the connection drops; the channel closing plus a non-nil
// Err distinguishes failure from a clean shutdown.
type Conn interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendText(ctx context.Context, text string) error
	Messages() <-chan []byte
	Err() error
	Close() error
}

// GeminiBackend connects to the Gemini Live API over websocket, trying an
// ordered chain of candidate models until one accepts the session.
type GeminiBackend struct {
	apiKey   string
	models   []string
	endpoint string
	dialer   *websocket.Dialer
	logger   *logging.Logger
}

// NewGeminiBackend creates a backend with the given model fallback chain.
func NewGeminiBackend(apiKey string, models []string, logger *logging.Logger) *GeminiBackend {
	if logger == nil {
		logger = logging.Default()
	}
	return &GeminiBackend{
		apiKey:   apiKey,
		models:   models,
		endpoint: liveEndpoint,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
	}
}

// Connect tries each candidate model in order; the first successful setup
// wins. All failures are joined into the returned error.
func (b *GeminiBackend) Connect(ctx context.Context, req ConnectRequest) (Conn, error) {
	var lastErr error
	for _, model := range b.models {
		conn, err := b.connectModel(ctx, model, req)
		if err == nil {
			b.logger.Info("backend connected", "model", model)
			return conn, nil
		}
		b.logger.Warn("backend model rejected connection", "model", model, "error", err)
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("live: no backend model accepted the connection: %w", lastErr)
}

func (b *GeminiBackend) connectModel(ctx context.Context, model string, req ConnectRequest) (Conn, error) {
	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, liveConnectTimeout)
		defer cancel()
	}

	endpoint := b.endpoint + "?key=" + url.QueryEscape(b.apiKey)
	ws, _, err := b.dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("live: dial backend: %w", err)
	}

	setup := map[string]any{
		"setup": map[string]any{
			"model": "models/" + model,
			"generationConfig": map[string]any{
				"responseModalities": []string{"AUDIO"},
			},
			"systemInstruction": map[string]any{
				"parts": []map[string]any{{"text": req.SystemInstruction}},
			},
			"tools":                    req.Tools,
			"inputAudioTranscription":  map[string]any{},
			"outputAudioTranscription": map[string]any{},
		},
	}
	if err := ws.WriteJSON(setup); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("live: send setup: %w", err)
	}

	// The first frame must acknowledge setup before any audio flows.
	_ = ws.SetReadDeadline(time.Now().Add(liveConnectTimeout))
	_, payload, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("live: read setup ack: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	var ack struct {
		SetupComplete *json.RawMessage `json:"setupComplete"`
	}
	if err := json.Unmarshal(payload, &ack); err != nil || ack.SetupComplete == nil {
		_ = ws.Close()
		return nil, fmt.Errorf("live: backend refused setup for model %s", model)
	}

	conn := &geminiConn{
		ws:       ws,
		messages: make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	go conn.readLoop()
	return conn, nil
}

type geminiConn struct {
	ws       *websocket.Conn
	messages chan []byte
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (c *geminiConn) SendAudio(_ context.Context, pcm []byte) error {
	return c.sendJSON(map[string]any{
		"realtimeInput": map[string]any{
			"audio": map[string]any{
				"mimeType": fmt.Sprintf("audio/pcm;rate=%d", InputSampleRate),
				"data":     base64.StdEncoding.EncodeToString(pcm),
			},
		},
	})
}

func (c *geminiConn) SendText(_ context.Context, text string) error {
	return c.sendJSON(map[string]any{
		"clientContent": map[string]any{
			"turns": []map[string]any{
				{"role": "user", "parts": []map[string]any{{"text": text}}},
			},
			"turnComplete": true,
		},
	})
}

func (c *geminiConn) Messages() <-chan []byte { return c.messages }

func (c *geminiConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close shuts the connection down; double close is a no-op.
func (c *geminiConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

func (c *geminiConn) sendJSON(v any) error {
	select {
	case <-c.done:
		return fmt.Errorf("live: backend connection closed")
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *geminiConn) readLoop() {
	defer close(c.messages)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setErr(err)
			}
			return
		}
		select {
		case c.messages <- data:
		case <-c.done:
			return
		}
	}
}

func (c *geminiConn) setErr(err error) {
	select {
	case <-c.done:
		return // errors after Close are expected teardown noise
	default:
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}
