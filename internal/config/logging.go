package config

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging настраивает глобальный logrus по секции log
func ConfigureLogging(c LogConfig) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch strings.ToLower(c.Format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
