package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/config"
	"github.com/zhouzirui/ai-dietitian/backend/internal/handler"
	"github.com/zhouzirui/ai-dietitian/backend/internal/logging"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/ai"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/diet"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logrus.StandardLogger()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.WithError(err).Debug("no .env file loaded, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	logging.Configure(log, cfg.Log, os.Stderr)

	factory := ai.NewFactory(cfg.AI, log)

	store := session.NewStore(factory.NewInvoker,
		session.WithIdleTTL(cfg.Session.IdleTTL),
		session.WithLogger(log),
	)
	processor := session.NewProcessor(factory.NewInvoker,
		session.WithMaxMessageLength(cfg.Session.MaxMessageLength),
		session.WithProcessorLogger(log),
	)
	svc := diet.NewService(store, processor,
		diet.WithCredentialCheck(diet.CheckFor(cfg.AI.Provider, cfg.AI.CredentialPrefix)),
		diet.WithLogger(log),
	)

	if cfg.Session.IdleTTL > 0 {
		go store.RunJanitor(ctx, cfg.Session.SweepInterval)
	}

	router := handler.NewRouter(svc, handler.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		Streaming:      factory.StreamingEnabled(),
		Log:            log,
	})

	log.WithFields(logrus.Fields{
		"provider": cfg.AI.Provider,
		"model":    cfg.AI.Model,
		"stream":   factory.StreamingEnabled(),
	}).Info("dietitian service configured")

	startServer(ctx, log, cfg.Server, router)
}

func startServer(ctx context.Context, log logrus.FieldLogger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.WithField("addr", addr).Info("AI Dietitian backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.WithError(err).Fatal("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
