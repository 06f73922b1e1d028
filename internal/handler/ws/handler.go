package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/service/ai"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/diet"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/session"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 54 * time.Second
	writeTimeout        = 10 * time.Second
)

// Handler serves the interactive chat socket. One connection drives one
// session; the credential lives only as long as the connection.
type Handler struct {
	svc          *diet.Service
	streaming    bool
	timeout      time.Duration
	readTimeout  time.Duration
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	log          logrus.FieldLogger
}

// New creates a socket handler.
func New(svc *diet.Service, streaming bool, timeout time.Duration, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		svc:          svc,
		streaming:    streaming,
		timeout:      timeout,
		readTimeout:  defaultReadTimeout,
		pingInterval: defaultPingInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log.WithField("component", "websocket"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type connectionState struct {
	sessionID  string
	credential string
}

func (s *connectionState) authenticated() bool {
	return s.credential != ""
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := session.ValidateID(sessionID); err != nil {
		http.Error(w, diet.PublicMessage(diet.KindInvalidSessionID), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.WithField("session_id", sessionID)
	log.Info("new connection")

	// The request context is not reliably cancelled once the connection is
	// hijacked, so the loop owns its own.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		h.extendReadDeadline(conn)
		return nil
	})

	go h.pingLoop(ctx, conn)

	state := &connectionState{sessionID: sessionID}

	connected := ConnectedData{
		Welcome:   ai.WelcomeMessage,
		NeedsAuth: true,
		Streaming: h.streaming,
	}
	if snapshot, err := h.svc.Snapshot(sessionID); err == nil {
		connected.TurnCount = len(snapshot.Transcript)
		connected.Transcript = snapshot.Transcript
	}
	h.send(conn, state, TypeConnected, connected)

	for {
		var msg InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("read error")
			}
			return
		}

		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(conn, state, diet.KindInvalidSessionID, "session mismatch")
		} else {
			h.handleMessage(ctx, conn, state, &msg)
		}

		// The model call may have outlasted the deadline.
		h.extendReadDeadline(conn)
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, msg *InboundMessage) {
	switch msg.Type {
	case TypeAuth:
		h.handleAuth(ctx, conn, state, msg.Data)
	case TypeMessage:
		h.handleText(ctx, conn, state, msg.Data)
	case TypeClear:
		h.handleClear(conn, state)
	default:
		h.sendError(conn, state, "unsupported", "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) handleAuth(ctx context.Context, conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	var payload AuthPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(conn, state, "invalid_request", "invalid auth payload")
		return
	}

	status, err := h.svc.Initialize(ctx, state.sessionID, payload.Credential)
	if err != nil {
		h.sendKindError(conn, state, err)
		return
	}

	state.credential = payload.Credential
	h.send(conn, state, TypeReady, StatusData{Status: status})
}

func (h *Handler) handleText(ctx context.Context, conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	if !state.authenticated() {
		h.sendError(conn, state, diet.KindUnauthorized, "send an auth frame with a valid API key first")
		return
	}

	var payload TextPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(conn, state, "invalid_request", "invalid text payload")
		return
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var onDelta func(string)
	if h.streaming {
		onDelta = func(delta string) {
			h.send(conn, state, TypeDelta, TextData{Text: delta})
		}
	}

	var err error
	var text string
	if onDelta != nil {
		reply, streamErr := h.svc.ChatStream(ctx, state.sessionID, state.credential, payload.Text, onDelta)
		text, err = reply.Content, streamErr
	} else {
		reply, chatErr := h.svc.Chat(ctx, state.sessionID, state.credential, payload.Text)
		text, err = reply.Content, chatErr
	}
	if err != nil {
		h.sendKindError(conn, state, err)
		return
	}

	h.send(conn, state, TypeReply, TextData{Text: text})
}

func (h *Handler) handleClear(conn *websocket.Conn, state *connectionState) {
	status, err := h.svc.Clear(state.sessionID)
	if err != nil {
		h.sendKindError(conn, state, err)
		return
	}
	h.send(conn, state, TypeCleared, StatusData{Status: status})
}

func (h *Handler) extendReadDeadline(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
}

func (h *Handler) send(conn *websocket.Conn, state *connectionState, kind string, data any) {
	msg := OutgoingMessage{
		Type:      kind,
		SessionID: state.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		h.log.WithError(err).WithField("type", kind).Debug("write failed")
	}
}

func (h *Handler) sendKindError(conn *websocket.Conn, state *connectionState, err error) {
	kind := diet.KindOf(err)
	entry := h.log.WithError(err).WithFields(logrus.Fields{"session_id": state.sessionID, "kind": kind})
	if errors.Is(err, session.ErrModelInvocationFailed) || kind == diet.KindInternal {
		entry.Warn("chat frame failed")
	}
	h.sendError(conn, state, kind, diet.PublicMessage(kind))
}

func (h *Handler) sendError(conn *websocket.Conn, state *connectionState, code diet.Kind, message string) {
	h.send(conn, state, TypeError, ErrorData{Code: string(code), Message: message})
}

// pingLoop 定期发送ping消息. WriteControl is safe alongside WriteJSON.
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
