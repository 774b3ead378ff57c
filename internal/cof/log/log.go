// Package log configures the process-default logger every command
// shares. Component loggers with their own prefixes and sinks come
// from internal/logging instead.
package log

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
)

// Setup configures the default logger once. Debug drops the level and
// reports callers; a non-empty logFile redirects output there,
// appending. Later calls are no-ops.
func Setup(logFile string, debug bool) {
	initOnce.Do(func() {
		level := log.InfoLevel
		if debug {
			level = log.DebugLevel
		}
		log.SetLevel(level)
		log.SetReportTimestamp(true)
		log.SetTimeFormat(time.Kitchen)
		log.SetReportCaller(debug)

		if logFile != "" {
			f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
			if err == nil {
				log.SetOutput(f)
			}
			// Unwritable file falls back to stderr.
		}
		initialized.Store(true)
	})
}

// Initialized reports whether Setup has run.
func Initialized() bool {
	return initialized.Load()
}

// RecoverPanic logs a recovered panic with its stack, then runs the
// cleanup, if any.
func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		if Initialized() {
			log.Error(fmt.Sprintf("panic in %s", name),
				"panic", r,
				"stack", string(debug.Stack()))
		}
		if cleanup != nil {
			cleanup()
		}
	}
}
