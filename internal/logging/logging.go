package logging

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/config"
)

// Configure applies cfg to an existing logger, typically
// logrus.StandardLogger(). Unknown levels fall back to info.
func Configure(log *logrus.Logger, cfg config.LogConfig, out io.Writer) {
	log.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
