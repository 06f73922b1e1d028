package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/handler/api"
	"github.com/zhouzirui/ai-dietitian/backend/internal/model/chat"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/diet"
	"github.com/zhouzirui/ai-dietitian/backend/pkg/utils"
)

// Handler streams replies to a chat message as Server-Sent Events.
type Handler struct {
	svc       *diet.Service
	streaming bool
	timeout   time.Duration
	log       logrus.FieldLogger
}

// New creates a stream handler. When streaming is false the reply is sent
// as a single message event.
func New(svc *diet.Service, streaming bool, timeout time.Duration, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		svc:       svc,
		streaming: streaming,
		timeout:   timeout,
		log:       log.WithField("component", "stream"),
	}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// RegisterRoutes 注册流式路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, string(diet.KindInternal), "streaming unsupported")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	userMessage := r.URL.Query().Get("message")

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	// SSE headers go out with the first event, so validation failures can
	// still be answered with a plain JSON error.
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		utils.SetupSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		h.send(w, flusher, StreamResponse{Event: "start", SessionID: sessionID})
	}

	var (
		reply chat.Turn
		err   error
	)
	if h.streaming {
		reply, err = h.svc.ChatStream(ctx, sessionID, api.BearerToken(r), userMessage, func(delta string) {
			start()
			h.send(w, flusher, StreamResponse{Event: "delta", SessionID: sessionID, Content: delta})
		})
	} else {
		reply, err = h.svc.Chat(ctx, sessionID, api.BearerToken(r), userMessage)
	}

	if err != nil {
		kind := diet.KindOf(err)
		h.log.WithError(err).WithFields(logrus.Fields{"session_id": sessionID, "kind": kind}).Warn("stream request failed")
		if !started {
			utils.RespondError(w, api.StatusFor(kind), string(kind), diet.PublicMessage(kind))
			return
		}
		h.send(w, flusher, StreamResponse{Event: "error", SessionID: sessionID, Error: string(kind), Message: diet.PublicMessage(kind)})
		return
	}

	start()
	h.send(w, flusher, StreamResponse{Event: "message", SessionID: sessionID, Content: reply.Content})
	h.send(w, flusher, StreamResponse{Event: "end", SessionID: sessionID, Finished: true})

	h.log.WithField("session_id", sessionID).Debug("completed streamed response")
}

func (h *Handler) send(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}
