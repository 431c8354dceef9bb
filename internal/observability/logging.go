package observability

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log output: structured JSON to stdout, optionally teed into a rotated
// file when STABLE_LOG_FILE is set. Level from STABLE_LOG_LEVEL (default info).
var logOutput = newLogOutput()

func newLogOutput() io.Writer {
	path := os.Getenv("STABLE_LOG_FILE")
	if path == "" {
		return os.Stdout
	}

	maxSize, err := strconv.Atoi(os.Getenv("STABLE_LOG_MAX_MB"))
	if err != nil || maxSize <= 0 {
		maxSize = 100
	}

	rotating := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	return zerolog.MultiLevelWriter(os.Stdout, rotating)
}

// NewLogger creates a component logger on the shared output.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, parseLogLevel(os.Getenv("STABLE_LOG_LEVEL")))
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(logOutput).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
