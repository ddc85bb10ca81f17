package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger writes component-scoped log lines for the harness.
// All loggers of one test run share a single file named after the run id:
// <log-dir>/<run-id>-harness.log
//
// Warnf and Errorf are also echoed to the echo writer when one is set,
// so that setup problems show up in `go test` output.
type Logger struct {
	runID     string
	component string
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
}

var (
	runID     string
	runIDOnce sync.Once

	// logDir is where log files are written. Empty means <cwd>/.build/logs.
	logDir string

	initOnce sync.Once
	initErr  error

	echoMu sync.RWMutex
	echo   io.Writer = os.Stderr
)

func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

// SetDirectory sets the log directory. It must be called before the first
// NewLogger call to take effect.
func SetDirectory(dir string) {
	logDir = dir
}

// SetEcho sets the writer that warnings and errors are mirrored to.
// A nil writer disables echoing.
func SetEcho(w io.Writer) {
	echoMu.Lock()
	defer echoMu.Unlock()
	echo = w
}

func initLogDirectory() error {
	initOnce.Do(func() {
		if logDir == "" {
			wd, err := os.Getwd()
			if err != nil {
				initErr = fmt.Errorf("failed to get working directory: %w", err)
				return
			}
			logDir = filepath.Join(wd, ".build", "logs")
		}
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// NewLogger creates a logger for a component.
//
// If the log file cannot be opened it returns a logger writing to stderr
// together with the error, so callers may keep going in fallback mode.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	id := getRunID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-harness.log", id))

	// Append mode: every component of the run writes to the same file.
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, err), err
	}

	return &Logger{
		runID:     id,
		component: component,
		file:      file,
		logger:    log.New(file, "", 0),
		logPath:   logPath,
	}, nil
}

// MustLogger is NewLogger for callers that accept the stderr fallback.
func MustLogger(component string) *Logger {
	l, _ := NewLogger(component)
	return l
}

func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, "", 0)
	l := &Logger{
		runID:     getRunID(),
		component: component,
		logger:    logger,
	}
	logger.Println(l.formatLogEntry("WARN", fmt.Sprintf("file logging unavailable, using stderr: %v", err)))
	return l
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard(component string) *Logger {
	return &Logger{
		runID:     getRunID(),
		component: component,
		logger:    log.New(io.Discard, "", 0),
	}
}

func (l *Logger) formatLogEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(level string, echoed bool, format string, v ...interface{}) {
	entry := l.formatLogEntry(level, fmt.Sprintf(format, v...))

	l.mu.Lock()
	l.logger.Println(entry)
	l.mu.Unlock()

	if !echoed || l.file == nil {
		return
	}
	echoMu.RLock()
	w := echo
	echoMu.RUnlock()
	if w != nil {
		fmt.Fprintln(w, entry)
	}
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write("DEBUG", false, format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write("INFO", false, format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write("WARN", true, format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write("ERROR", true, format, v...)
}

// With returns a logger for a sub-component sharing the same file.
func (l *Logger) With(sub string) *Logger {
	return &Logger{
		runID:     l.runID,
		component: l.component + "/" + sub,
		file:      l.file,
		logger:    l.logger,
		logPath:   l.logPath,
	}
}

// RunID returns the id of the current test run
func (l *Logger) RunID() string {
	return l.runID
}

// LogPath returns the path to the log file, empty in fallback mode.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetRunID returns the global run id
func GetRunID() string {
	return getRunID()
}

// GetLogDirectory returns the directory where logs are stored
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
