package systx

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging installs a text-handler default logger, with its
// level taken from STM_LOG_LEVEL (DEBUG, WARN, ERROR; anything else,
// including unset, is INFO). This is the one environment-variable
// reachable from this module, and it only ever affects log verbosity,
// never transaction semantics; see engine.Option for the latter.
func ConfigureLogging() {
	logLevel.Set(slog.LevelInfo)
	switch os.Getenv("STM_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel overrides the level set by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
