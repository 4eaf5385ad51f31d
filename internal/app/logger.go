package app

import (
	"strings"

	"github.com/insightconsole/backend/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level, defaulting to info.
func ConfigureLogging(level, format string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	return logger.Configure(logger.Options{Level: level, Format: strings.TrimSpace(format)})
}
