// Package logging provides structured logging with file output support.
// It uses environment variables for configuration and supports file cleanup.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})

	// Set log level from environment
	level := os.Getenv("COF_LOG_LEVEL")
	switch level {
	case "debug":
		lg.SetLevel(log.DebugLevel)
	case "warn":
		lg.SetLevel(log.WarnLevel)
	case "error":
		lg.SetLevel(log.ErrorLevel)
	default:
		lg.SetLevel(log.InfoLevel)
	}

	// Set prefix from environment
	prefix := os.Getenv("COF_LOG_PREFIX")
	if prefix == "" {
		prefix = "cof "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a new logger based on environment variables
// COF_LOG_LEVEL: debug, info, warn, error (default: info)
// COF_LOG_PREFIX: prefix for log messages (default: "cof ")
// COF_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
func NewLogger() *LoggerCloser {
	if os.Getenv("COF_LOG_TO_FILE") == "1" {
		lc, _ := NewFileLogger()
		return lc
	}
	return NewLoggerWithWriter(os.Stderr)
}

// NewFileLogger logs to a fresh timestamped file in the working
// directory and returns its path so follow-up tooling can pick it up.
// The findings browser uses this to keep log lines off the alternate
// screen. Falls back to stderr when the file cannot be created.
func NewFileLogger() (*LoggerCloser, string) {
	timestamp := time.Now().Format("20060102-150405")
	logFile := fmt.Sprintf("cof-%s-debug.log", timestamp)

	f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return NewLoggerWithWriter(os.Stderr), ""
	}
	return NewLoggerWithWriter(f), logFile
}

// LogFilePath returns the conventional engine log file in dir, used by the
// `log` command to locate the most recent sink.
func LogFilePath(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	latest := ""
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || len(name) < 4 {
			continue
		}
		if len(name) > 13 && name[:4] == "cof-" && name[len(name)-10:] == "-debug.log" {
			if name > latest {
				latest = name
			}
		}
	}
	if latest == "" {
		return "", false
	}
	return dir + string(os.PathSeparator) + latest, true
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return os.Getenv("COF_LOG_LEVEL") == "debug"
}
