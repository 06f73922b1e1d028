package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/cli"
	"github.com/zhouzirui/ai-dietitian/backend/internal/config"
	"github.com/zhouzirui/ai-dietitian/backend/internal/logging"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/ai"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/diet"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/session"
)

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred cleanup always happens.
func run() int {
	key := flag.String("key", "", "API key (defaults to $DIET_API_KEY, then an interactive prompt)")
	server := flag.String("server", "", "chat over a running server, e.g. ws://localhost:8080")
	sessionID := flag.String("session", "", "session id (generated when empty)")
	verbose := flag.Bool("v", false, "log at debug level")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	log := logrus.StandardLogger()
	logCfg := cfg.Log
	if *verbose {
		logCfg.Level = "debug"
	} else if os.Getenv("LOG_LEVEL") == "" {
		logCfg.Level = "warn"
	}
	logging.Configure(log, logCfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	credential := strings.TrimSpace(*key)
	if credential == "" {
		credential = strings.TrimSpace(os.Getenv("DIET_API_KEY"))
	}
	if credential == "" {
		fmt.Println(ai.WelcomeMessage)
		credential, err = cli.ReadCredential(os.Stdin, os.Stdout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	}

	var backend cli.Backend
	if *server != "" {
		id := *sessionID
		if id == "" {
			id = "cli-" + uuid.NewString()
		}
		remote, err := cli.DialRemote(ctx, *server, id)
		if err != nil {
			log.WithError(err).Debug("dial failed")
			fmt.Fprintf(os.Stderr, "cannot reach server at %s\n", *server)
			return 1
		}
		backend = remote
	} else {
		backend = newLocalBackend(cfg, log, *sessionID)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.WithError(err).Debug("closing backend")
		}
	}()

	if err := backend.Authenticate(ctx, credential); err != nil {
		log.WithError(err).Debug("authentication failed")
		fmt.Fprintf(os.Stderr, "authentication failed: %s\n", cli.Describe(err))
		return 1
	}

	chat := &cli.Chat{
		Backend: backend,
		In:      os.Stdin,
		Out:     os.Stdout,
		Welcome: "Great, you're connected. Tell me about your health goals!",
		Stream:  cfg.AI.StreamResponse,
		Timeout: cfg.Server.RequestTimeout,
	}
	if err := chat.Loop(ctx); err != nil {
		log.WithError(err).Error("chat loop ended")
		return 1
	}
	return 0
}

func newLocalBackend(cfg *config.Config, log *logrus.Logger, sessionID string) *cli.LocalBackend {
	factory := ai.NewFactory(cfg.AI, log)
	store := session.NewStore(factory.NewInvoker, session.WithLogger(log))
	processor := session.NewProcessor(factory.NewInvoker,
		session.WithMaxMessageLength(cfg.Session.MaxMessageLength),
		session.WithProcessorLogger(log),
	)
	svc := diet.NewService(store, processor,
		diet.WithCredentialCheck(diet.CheckFor(cfg.AI.Provider, cfg.AI.CredentialPrefix)),
		diet.WithLogger(log),
	)
	return cli.NewLocalBackend(svc, sessionID, factory.StreamingEnabled())
}
