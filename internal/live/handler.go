package live

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voiceforms/platform/internal/observability/metrics"
	"github.com/voiceforms/platform/internal/session"
	"github.com/voiceforms/platform/pkg/logging"
)

// HandlerConfig wires the websocket entry point.
type HandlerConfig struct {
	Store     session.Store
	Backend   Backend
	Completer Completer
	// Lock enforces one connection per session across instances. Optional;
	// single-instance deployments on the memory store can omit it.
	Lock *session.ActiveLock

	Silence           SilenceConfig
	OutboundCapacity  int
	CompletionTimeout time.Duration
	Metrics           *metrics.SessionMetrics
	Logger            *logging.Logger
}

// Handler upgrades client connections and hands them to a per-session
// orchestrator.
type Handler struct {
	cfg      HandlerConfig
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the live websocket handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		cfg:    cfg,
		logger: logger.Component("live"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Session links are shared cross-origin by design; the session
			// id itself is the credential.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeSession handles GET /ws/sessions/{sessionID}. Precondition failures
// are refused with plain HTTP statuses before the upgrade.
func (h *Handler) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	sess, err := h.cfg.Store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load session", "session_id", sessionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sess.Status == session.StatusCompleted {
		http.Error(w, "session already completed", http.StatusConflict)
		return
	}
	if sess.Status == session.StatusExpired || sess.IsExpired() {
		http.Error(w, "session expired", http.StatusGone)
		return
	}

	schema, err := h.cfg.Store.GetSchema(ctx, sess.FormID)
	if err != nil {
		h.logger.Error("failed to load form schema", "form_id", sess.FormID, "error", err)
		http.Error(w, "form configuration unavailable", http.StatusInternalServerError)
		return
	}

	connID := uuid.New().String()
	if h.cfg.Lock != nil {
		if err := h.cfg.Lock.Acquire(ctx, sessionID, connID); err != nil {
			if errors.Is(err, session.ErrSessionBusy) {
				http.Error(w, "session already has an active connection", http.StatusConflict)
				return
			}
			h.logger.Error("failed to acquire session lock", "session_id", sessionID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	orch, err := NewOrchestrator(OrchestratorConfig{
		Session:           sess,
		Schema:            schema,
		Store:             h.cfg.Store,
		Backend:           h.cfg.Backend,
		Completer:         h.cfg.Completer,
		Silence:           h.cfg.Silence,
		OutboundCapacity:  h.cfg.OutboundCapacity,
		CompletionTimeout: h.cfg.CompletionTimeout,
		Metrics:           h.cfg.Metrics,
		Logger:            h.logger,
	})
	if err != nil {
		h.releaseLock(sessionID, connID)
		http.Error(w, "session not eligible", http.StatusConflict)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.releaseLock(sessionID, connID)
		h.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer ws.Close()
	defer h.releaseLock(sessionID, connID)

	if h.cfg.Lock != nil {
		refreshCtx, stopRefresh := context.WithCancel(ctx)
		defer stopRefresh()
		go h.refreshLock(refreshCtx, sessionID, connID)
	}

	h.logger.Info("live session connected", "session_id", sessionID, "form_id", sess.FormID)
	if err := orch.Run(ctx, ws); err != nil {
		h.logger.Error("live session ended with error", "session_id", sessionID, "error", err)
		return
	}
	h.logger.Info("live session closed", "session_id", sessionID, "state", orch.State().String())
}

// refreshLock heartbeats the session lock so a long interview outlives the
// lock TTL without a crashed instance stranding the session.
func (h *Handler) refreshLock(ctx context.Context, sessionID, connID string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.cfg.Lock.Refresh(ctx, sessionID, connID); err != nil {
				h.logger.Warn("failed to refresh session lock", "session_id", sessionID, "error", err)
			}
		}
	}
}

func (h *Handler) releaseLock(sessionID, connID string) {
	if h.cfg.Lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.cfg.Lock.Release(ctx, sessionID, connID); err != nil {
		h.logger.Warn("failed to release session lock", "session_id", sessionID, "error", err)
	}
}
