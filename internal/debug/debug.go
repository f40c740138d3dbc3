// Package debug is the logging boundary of the wiki core. Output is off by
// default; it is enabled by a build flag or the DEBUG environment variable
// and can be directed to a file for daemon runs. Walker and generator
// warnings flow through here so skipped paths are observable without being
// fatal.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Build flag for debug mode - can be overridden at build time:
// go build -ldflags "-X github.com/beaglenote/wikidex/internal/debug.EnableDebug=true"
var EnableDebug = "false"

var (
	debugOutput io.Writer
	debugFile   *os.File
	debugMutex  sync.Mutex
)

// SetOutput sets a custom writer for debug output. Pass nil to disable.
func SetOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitLogFile directs debug output to a timestamped file under the OS temp
// directory. Returns the log path. Call CloseLogFile at shutdown.
func InitLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "wikidex-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("wikidex-%s.log", time.Now().Format("2006-01-02T150405")))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return logPath, nil
}

// CloseLogFile closes the debug log file if one is open.
func CloseLogFile() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile != nil {
		err := debugFile.Close()
		debugFile = nil
		debugOutput = nil
		return err
	}
	return nil
}

// IsEnabled reports whether debug output is active.
func IsEnabled() bool {
	if EnableDebug == "true" {
		return true
	}
	return os.Getenv("DEBUG") == "1" || os.Getenv("DEBUG") == "true"
}

func getWriter() io.Writer {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	return debugOutput
}

func logf(category, format string, args ...interface{}) {
	if !IsEnabled() {
		return
	}
	w := getWriter()
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "[%s] %s %s\n",
		category, time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}

// LogWalk logs filesystem traversal events (skipped dirs, unreadable files).
func LogWalk(format string, args ...interface{}) {
	logf("walk", format, args...)
}

// LogIndex logs index build and mutation events.
func LogIndex(format string, args ...interface{}) {
	logf("index", format, args...)
}

// LogSearch logs query execution events.
func LogSearch(format string, args ...interface{}) {
	logf("search", format, args...)
}

// LogStore logs persistence adapter events.
func LogStore(format string, args ...interface{}) {
	logf("store", format, args...)
}

// LogAIContext logs generator runs and per-folder failures.
func LogAIContext(format string, args ...interface{}) {
	logf("aicontext", format, args...)
}

// LogServer logs HTTP boundary events.
func LogServer(format string, args ...interface{}) {
	logf("server", format, args...)
}
