package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceforms/platform/internal/form"
	"github.com/voiceforms/platform/internal/observability/metrics"
	"github.com/voiceforms/platform/internal/session"
	"github.com/voiceforms/platform/pkg/logging"
)

// State is the orchestrator lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateCompleting
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session-level precondition failures, surfaced before streaming starts.
var (
	ErrSessionExpired   = errors.New("live: session expired")
	ErrSessionCompleted = errors.New("live: session already completed")
)

// Cancellation causes used to tell teardown modes apart.
var (
	errCompletionRequested = errors.New("live: completion requested")
	errClientGone          = errors.New("live: client disconnected")
	errBackendClosed       = errors.New("live: backend closed the stream")
)

// ClientConn is the client-facing transport. *websocket.Conn satisfies it.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Completer finalizes a session: extracts fields and a summary, persists
// the record, and hands it to webhook delivery.
type Completer interface {
	Complete(ctx context.Context, sess *session.Session, schema *form.Schema, collected map[string]any, summary string) (map[string]any, string, int, error)
}

// OrchestratorConfig wires one live session.
type OrchestratorConfig struct {
	Session   *session.Session
	Schema    *form.Schema
	Store     session.Store
	Backend   Backend
	Completer Completer
	Silence   SilenceConfig
	// OutboundCapacity bounds the client-to-backend audio queue.
	OutboundCapacity  int
	CompletionTimeout time.Duration
	Metrics           *metrics.SessionMetrics
	Logger            *logging.Logger
}

// Orchestrator owns the backend connection for one session and runs the
// cooperating tasks that move audio, decode events, apply tool calls and
// watch for silence. It is the single writer for its session record.
type Orchestrator struct {
	cfg    OrchestratorConfig
	logger *logging.Logger

	relay *AudioRelay
	tools *ToolHandler

	state atomic.Int32

	sessMu sync.Mutex
	sess   *session.Session

	writeMu sync.Mutex
	client  ClientConn

	completeOnce   sync.Once
	completeReason atomic.Value // string
	cancelFn       atomic.Pointer[context.CancelCauseFunc]
}

// NewOrchestrator validates preconditions and assembles the task wiring.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Session == nil || cfg.Schema == nil || cfg.Store == nil || cfg.Backend == nil || cfg.Completer == nil {
		return nil, errors.New("live: orchestrator requires session, schema, store, backend and completer")
	}
	if cfg.Session.Status == session.StatusCompleted {
		return nil, ErrSessionCompleted
	}
	if cfg.Session.Status == session.StatusExpired || cfg.Session.IsExpired() {
		return nil, ErrSessionExpired
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.Component("live").With("session_id", cfg.Session.ID)

	o := &Orchestrator{
		cfg:    cfg,
		logger: logger,
		relay:  NewAudioRelay(cfg.OutboundCapacity),
		tools:  NewToolHandler(cfg.Schema, cfg.Session.CollectedData, logger),
		sess:   cfg.Session,
	}
	o.tools.OnProgress(o.sendProgress)
	o.tools.OnSummary(func(summary string) {
		o.sendJSON(map[string]any{"type": "summary_submitted", "summary": summary})
	})
	o.tools.OnComplete(func() { o.requestCompletion("tool_call") })
	return o, nil
}

// State reports the current lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Run drives the session to a terminal state. The client always receives
// an explicit completed or error event unless it disconnected first.
func (o *Orchestrator) Run(ctx context.Context, client ClientConn) error {
	o.client = client
	o.state.Store(int32(StateConnecting))

	conn, err := o.cfg.Backend.Connect(ctx, ConnectRequest{
		SystemInstruction: BuildSystemInstruction(o.cfg.Schema),
		Tools:             ToolDeclarations(),
	})
	if err != nil {
		o.state.Store(int32(StateError))
		o.sendJSON(map[string]any{"type": "error", "message": "could not reach the conversation backend"})
		return fmt.Errorf("live: connect backend: %w", err)
	}
	defer conn.Close()

	monitor := NewSilenceMonitor(o.cfg.Silence, o.relay.LastBackendAudio,
		o.tools.SummarySubmitted(), func() { o.requestCompletion("silence") }, o.logger)

	o.sessMu.Lock()
	o.sess.MarkStarted()
	o.sessMu.Unlock()
	o.cfg.Metrics.ObserveStarted()
	if err := o.saveSession(ctx); err != nil {
		o.logger.Error("failed to persist session start", "error", err)
	}

	o.state.Store(int32(StateStreaming))
	o.sendJSON(map[string]any{
		"type":         "ready",
		"form_name":    o.cfg.Schema.Name,
		"total_fields": len(o.cfg.Schema.Fields),
	})

	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	o.cancelFn.Store(&cancel)

	// ReadMessage does not watch contexts; poke the read deadline so the
	// client reader unblocks when a sibling task tears the group down.
	go func() {
		<-streamCtx.Done()
		_ = client.SetReadDeadline(time.Now())
	}()

	var wg sync.WaitGroup
	wg.Add(5)
	go func() {
		defer wg.Done()
		o.readClient(streamCtx, cancel, monitor, conn)
	}()
	go func() {
		defer wg.Done()
		o.pumpOutbound(streamCtx, cancel, conn)
	}()
	go func() {
		defer wg.Done()
		o.pumpBackend(streamCtx, cancel, conn)
	}()
	go func() {
		defer wg.Done()
		o.drainToClient(streamCtx)
	}()
	go func() {
		defer wg.Done()
		monitor.Run(streamCtx)
	}()

	wg.Wait()
	o.relay.Close()
	_ = conn.Close()

	return o.finish(ctx, context.Cause(streamCtx))
}

// finish resolves the teardown cause into a terminal state.
func (o *Orchestrator) finish(ctx context.Context, cause error) error {
	if reason, ok := o.completeReason.Load().(string); ok {
		return o.runCompletion(reason)
	}

	switch {
	case errors.Is(cause, errClientGone):
		// Disconnect without completion: persist progress so a fresh
		// connection can resume the interview.
		o.applyCollected()
		if err := o.saveSession(context.WithoutCancel(ctx)); err != nil {
			o.logger.Error("failed to persist session on disconnect", "error", err)
		}
		o.state.Store(int32(StateClosed))
		o.logger.Info("client disconnected, session left resumable")
		return nil
	case cause == nil || errors.Is(cause, context.Canceled):
		o.state.Store(int32(StateClosed))
		return nil
	default:
		o.state.Store(int32(StateError))
		o.sendJSON(map[string]any{"type": "error", "message": "session failed"})
		o.applyCollected()
		if err := o.saveSession(context.WithoutCancel(ctx)); err != nil {
			o.logger.Error("failed to persist session on error", "error", err)
		}
		return cause
	}
}

func (o *Orchestrator) runCompletion(reason string) error {
	o.state.Store(int32(StateCompleting))
	o.logger.Info("completing session", "trigger", reason)

	collected, summary := o.tools.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CompletionTimeout)
	defer cancel()

	o.sessMu.Lock()
	sess := o.sess
	o.sessMu.Unlock()

	fields, finalSummary, confidence, err := o.cfg.Completer.Complete(ctx, sess, o.cfg.Schema, collected, summary)
	if err != nil {
		o.state.Store(int32(StateError))
		o.sendJSON(map[string]any{"type": "error", "message": "failed to finalize the interview"})
		return fmt.Errorf("live: completion failed: %w", err)
	}

	o.sendJSON(map[string]any{
		"type":       "completed",
		"data":       fields,
		"summary":    finalSummary,
		"confidence": confidence,
		"message":    o.successMessage(),
	})
	o.state.Store(int32(StateClosed))
	o.cfg.Metrics.ObserveCompleted(reason)
	return nil
}

// requestCompletion is the one-shot completion trigger shared by the
// silence monitor, the complete_form tool and manual_complete.
func (o *Orchestrator) requestCompletion(reason string) {
	o.completeOnce.Do(func() {
		o.completeReason.Store(reason)
		if cancel := o.cancelFn.Load(); cancel != nil {
			(*cancel)(errCompletionRequested)
		}
	})
}

// readClient consumes client frames: binary frames are microphone PCM,
// text frames are control messages.
func (o *Orchestrator) readClient(ctx context.Context, cancel context.CancelCauseFunc, monitor *SilenceMonitor, conn Conn) {
	for {
		msgType, data, err := o.client.ReadMessage()
		if err != nil {
			cancel(errClientGone)
			return
		}
		if ctx.Err() != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			monitor.ObserveClientAudio(data)
			if err := o.relay.PushClientAudio(ctx, data); err != nil {
				return
			}
		case websocket.TextMessage:
			o.handleControl(ctx, data, conn)
		}
	}
}

func (o *Orchestrator) handleControl(ctx context.Context, data []byte, conn Conn) {
	var msg struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		o.logger.Warn("unparseable control message dropped", "error", err)
		return
	}
	switch msg.Type {
	case "start":
		// Connection-time setup already ran; acknowledge implicitly.
	case "user_transcript":
		if msg.Text == "" {
			return
		}
		o.addMessage("user", msg.Text)
		if err := conn.SendText(ctx, msg.Text); err != nil {
			o.logger.Warn("failed to forward user transcript to backend", "error", err)
		}
	case "manual_complete":
		o.logger.Info("client requested manual completion")
		o.requestCompletion("manual")
	default:
		o.logger.Warn("unknown control message dropped", "control_type", msg.Type)
	}
}

// pumpOutbound moves relayed client audio into the backend connection.
func (o *Orchestrator) pumpOutbound(ctx context.Context, cancel context.CancelCauseFunc, conn Conn) {
	for {
		pcm, err := o.relay.PopClientAudio(ctx)
		if err != nil {
			return
		}
		if err := conn.SendAudio(ctx, pcm); err != nil {
			cancel(fmt.Errorf("live: send audio to backend: %w", err))
			return
		}
	}
}

// pumpBackend decodes backend responses and dispatches the resulting
// events. Decode failures drop the frame; they never end the session.
func (o *Orchestrator) pumpBackend(ctx context.Context, cancel context.CancelCauseFunc, conn Conn) {
	for {
		select {
		case raw, ok := <-conn.Messages():
			if !ok {
				if err := conn.Err(); err != nil {
					cancel(fmt.Errorf("live: backend stream failed: %w", err))
				} else {
					cancel(errBackendClosed)
				}
				return
			}
			for _, event := range Decode(raw) {
				o.dispatch(ctx, event)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, event Event) {
	switch e := event.(type) {
	case AudioChunk:
		o.relay.PushBackendAudio(e.Data)
	case Transcript:
		o.addMessage(e.Speaker, e.Text)
		o.sendJSON(map[string]any{"type": "transcript", "text": e.Text, "speaker": e.Speaker})
	case ToolCall:
		o.cfg.Metrics.ObserveToolCall(e.Name)
		o.tools.Handle(ctx, e)
	}
}

// drainToClient forwards backend audio to the client as binary frames.
func (o *Orchestrator) drainToClient(ctx context.Context) {
	for {
		pcm, err := o.relay.PopBackendAudio(ctx)
		if err != nil {
			return
		}
		o.writeMu.Lock()
		err = o.client.WriteMessage(websocket.BinaryMessage, pcm)
		o.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (o *Orchestrator) sendProgress(completed, total int) {
	percent := 0
	if total > 0 {
		percent = completed * 100 / total
	}
	o.sendJSON(map[string]any{
		"type":             "progress",
		"fields_completed": completed,
		"total_fields":     total,
		"percent":          percent,
	})
}

func (o *Orchestrator) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if o.client == nil {
		return
	}
	_ = o.client.WriteMessage(websocket.TextMessage, data)
}

func (o *Orchestrator) addMessage(role, text string) {
	o.sessMu.Lock()
	o.sess.AddMessage(role, text)
	o.sessMu.Unlock()
}

// applyCollected folds the tool handler's running values into the session.
func (o *Orchestrator) applyCollected() {
	collected, summary := o.tools.Snapshot()
	o.sessMu.Lock()
	for name, value := range collected {
		o.sess.SetField(name, value)
	}
	if summary != "" {
		o.sess.Summary = summary
	}
	o.sessMu.Unlock()
}

func (o *Orchestrator) saveSession(ctx context.Context) error {
	o.sessMu.Lock()
	snapshot := *o.sess
	o.sessMu.Unlock()
	return o.cfg.Store.SaveSession(ctx, &snapshot)
}

func (o *Orchestrator) successMessage() string {
	if o.cfg.Schema.SuccessMessage != "" {
		return o.cfg.Schema.SuccessMessage
	}
	return "That completes our survey! Thank you!"
}
