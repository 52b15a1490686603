// Package debug provides conditional debug logging and best-effort warnings
// for vx.
//
// Debug logging is enabled by setting the VX_DEBUG environment variable:
//
//	VX_DEBUG=1 vx
//
// When disabled (default), Log and friends are no-ops. Warn always writes:
// it is the sink for failures that are recovered locally and never shown to
// the user (history persistence, plugin manifest reloads). The TUI points
// the output at a log file so warnings never land on the terminal.
package debug

import (
	"io"
	"log"
	"os"
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	enabled bool
	out     io.Writer = os.Stderr
	logger  *log.Logger
	warner  = log.New(os.Stderr, "[VX_WARN] ", log.LstdFlags)
)

func init() {
	if os.Getenv("VX_DEBUG") != "" {
		enabled = true
		logger = log.New(out, "[VX_DEBUG] ", log.Ltime|log.Lmicroseconds)
	}
}

// Enabled returns whether debug logging is enabled.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// SetEnabled allows programmatic control of debug logging.
func SetEnabled(e bool) {
	mu.Lock()
	defer mu.Unlock()
	enabled = e
	if e && logger == nil {
		logger = log.New(out, "[VX_DEBUG] ", log.Ltime|log.Lmicroseconds)
	}
}

// SetOutput redirects both debug and warning output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	warner.SetOutput(w)
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Log writes a debug message if debug logging is enabled.
func Log(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if !enabled {
		return
	}
	logger.Printf(format, args...)
}

// LogTiming writes a timing message if debug logging is enabled.
func LogTiming(name string, d time.Duration) {
	Log("%s took %v", name, d)
}

// Warn records a failure that was recovered locally.
func Warn(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	warner.Printf(format, args...)
}
