// Package logging builds the adapter's structured logger: a log/slog
// handler whose format is keyed off ENVIRONMENT, tagged with the process's
// DRACO_VARIANT label.
package logging

import (
	"fmt"
	"os"
	"strings"

	"log/slog"

	"github.com/code0-tech/draco-adapter/internal/config"
)

// New builds the process-wide logger. JSON is used in "production" and
// "staging" environments, text in "development" and when ENVIRONMENT is
// unset; any other value is rejected.
func New(cfg config.Config) (*slog.Logger, error) {
	level := slog.LevelInfo

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Environment) {
	case "production", "staging":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "development", "":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("logging: unsupported ENVIRONMENT %q", cfg.Environment)
	}

	logger := slog.New(handler).With(slog.String("component", "draco-adapter"))
	if cfg.DracoVariant != "" {
		logger = logger.With(slog.String("draco_variant", cfg.DracoVariant))
	}
	logger = logger.With(slog.String("mode", cfg.Mode))
	return logger, nil
}
