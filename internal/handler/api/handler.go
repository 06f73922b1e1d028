package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/service/diet"
	"github.com/zhouzirui/ai-dietitian/backend/pkg/utils"
)

const (
	serviceName    = "AI Dietitian API"
	serviceVersion = "1.0.0"
	maxBodyBytes   = 64 << 10
)

// Handler serves the REST surface of the diet service.
type Handler struct {
	svc *diet.Service
	log logrus.FieldLogger
}

// New 创建 REST 处理器
func New(svc *diet.Service, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{svc: svc, log: log.WithField("component", "api")}
}

// RegisterRoutes registers the routes that never call the model.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	r.Get("/sessions", h.handleListSessions)
	r.Delete("/clear-session/{sessionID}", h.handleClearSession)
}

// RegisterChatRoutes registers the credentialed routes.
func (h *Handler) RegisterChatRoutes(r chi.Router) {
	r.Post("/init-session", h.handleInitSession)
	r.Post("/chat", h.handleChat)
}

type initSessionRequest struct {
	SessionID string `json:"session_id"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SessionResponse is returned by init and clear.
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatResponse carries one assistant reply.
type ChatResponse struct {
	Response  string    `json:"response"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"version":   serviceVersion,
		"status":    "running",
		"timestamp": time.Now().UTC(),
		"endpoints": map[string]string{
			"health":        "/health",
			"chat":          "/chat",
			"init_session":  "/init-session",
			"clear_session": "/clear-session/{session_id}",
			"sessions":      "/sessions",
			"stream":        "/stream/{session_id}",
			"websocket":     "/ws/{session_id}",
		},
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.svc.Health())
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids := h.svc.Sessions()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"active_sessions": ids,
		"total_sessions":  len(ids),
		"timestamp":       time.Now().UTC(),
	})
}

func (h *Handler) handleInitSession(w http.ResponseWriter, r *http.Request) {
	var payload initSessionRequest
	if !decodeBody(w, r, &payload) {
		return
	}

	status, err := h.svc.Initialize(r.Context(), payload.SessionID, BearerToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	message := "Session successfully initialized. You can now start chatting!"
	if status == diet.StatusExists {
		message = "Session already initialized"
	}
	utils.RespondJSON(w, http.StatusOK, SessionResponse{
		SessionID: payload.SessionID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if !decodeBody(w, r, &payload) {
		return
	}

	reply, err := h.svc.Chat(r.Context(), payload.SessionID, BearerToken(r), payload.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, ChatResponse{
		Response:  reply.Content,
		SessionID: payload.SessionID,
		Timestamp: reply.Timestamp.UTC(),
		Status:    "success",
	})
}

func (h *Handler) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	status, err := h.svc.Clear(sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	message := "Session cleared successfully"
	if status == diet.StatusNotFound {
		message = "Session not found"
	}
	utils.RespondJSON(w, http.StatusOK, SessionResponse{
		SessionID: sessionID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// writeError classifies err and responds without exposing internal detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := diet.KindOf(err)
	log := h.log.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"kind":       kind,
	}).WithError(err)
	if kind == diet.KindInternal {
		log.Error("request failed")
	} else {
		log.Warn("request rejected")
	}

	utils.RespondError(w, StatusFor(kind), string(kind), diet.PublicMessage(kind))
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind diet.Kind) int {
	switch kind {
	case diet.KindInvalidSessionID, diet.KindInvalidMessage:
		return http.StatusBadRequest
	case diet.KindUnauthorized, diet.KindInvalidCredentialFormat:
		return http.StatusUnauthorized
	case diet.KindNotFound:
		return http.StatusNotFound
	case diet.KindModelInvocationFailed:
		return http.StatusBadGateway
	case diet.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// BearerToken extracts the credential from the Authorization header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return false
	}
	return true
}
