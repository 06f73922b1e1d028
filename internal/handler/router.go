package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/handler/api"
	"github.com/zhouzirui/ai-dietitian/backend/internal/handler/stream"
	"github.com/zhouzirui/ai-dietitian/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/ai-dietitian/backend/internal/middleware"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/diet"
)

// RouterConfig carries the transport settings shared by the handlers.
type RouterConfig struct {
	RequestTimeout time.Duration
	Streaming      bool
	Log            *logrus.Logger
}

// NewRouter wires HTTP routes to the dietitian service.
func NewRouter(svc *diet.Service, cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log))
	r.Use(middlewarePkg.Recover(log))
	r.Use(middlewarePkg.CORS)

	apiHandler := api.New(svc, log)
	streamHandler := stream.New(svc, cfg.Streaming, cfg.RequestTimeout, log)
	wsHandler := ws.New(svc, cfg.Streaming, cfg.RequestTimeout, log)

	apiHandler.RegisterRoutes(r)

	// Model-bound routes get a deadline. The stream handler applies its own
	// so the SSE writer is not cut off mid-event.
	r.Group(func(chat chi.Router) {
		if cfg.RequestTimeout > 0 {
			chat.Use(middlewarePkg.Deadline(cfg.RequestTimeout))
		}
		apiHandler.RegisterChatRoutes(chat)
	})

	streamHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	return r
}
