// Package logging provides structured file logging for cardsync components.
// Every run gets a uuid run id; all components of a run append to the same
// rotated log file under ~/.cardsync/logs/.
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
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes leveled, timestamped entries for one component.
type Logger struct {
	runID     string
	component string
	out       io.Writer
	logger    *log.Logger
	mu        sync.Mutex
}

var (
	runID     string
	runIDOnce sync.Once

	logWriter io.Writer
	initOnce  sync.Once
	initErr   error
)

// getRunID returns or creates the run id shared by all loggers of this process.
func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

// initLogWriter sets up the shared rotated log file.
func initLogWriter() error {
	initOnce.Do(func() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}

		dir := filepath.Join(homeDir, ".cardsync", "logs")
		if err := os.MkdirAll(dir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}

		logWriter = &lumberjack.Logger{
			Filename:   filepath.Join(dir, "cardsync.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
	})
	return initErr
}

// NewLogger creates a logger for a specific component.
//
// If the log directory cannot be created, it returns a fallback logger that
// writes to stderr along with the error so callers can detect fallback mode.
func NewLogger(component string) (*Logger, error) {
	if err := initLogWriter(); err != nil {
		return newFallbackLogger(component, err), err
	}

	return &Logger{
		runID:     getRunID(),
		component: component,
		out:       logWriter,
		logger:    log.New(logWriter, "", 0), // timestamps are formatted below
	}, nil
}

// NewWriterLogger creates a logger that writes to w. Used by tests and by
// callers that manage their own sinks.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		runID:     getRunID(),
		component: component,
		out:       w,
		logger:    log.New(w, "", 0),
	}
}

// newFallbackLogger creates a logger that writes to stderr when file logging fails.
func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	logger.Printf("WARNING: failed to initialize file logging: %v", err)

	return &Logger{
		runID:     getRunID(),
		component: component,
		out:       os.Stderr,
		logger:    logger,
	}
}

func (l *Logger) formatEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] [%s] %s", timestamp, l.runID[:8], l.component, level, message)
}

func (l *Logger) emit(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Println(l.formatEntry(level, fmt.Sprintf(format, v...)))
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...interface{}) { l.emit("DEBUG", format, v...) }

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) { l.emit("INFO", format, v...) }

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) { l.emit("WARN", format, v...) }

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) { l.emit("ERROR", format, v...) }

// Writer returns the underlying writer, for tools that need raw output capture.
func (l *Logger) Writer() io.Writer {
	return l.out
}

// RunID returns the run id shared by all loggers in this process.
func (l *Logger) RunID() string {
	return l.runID
}

// GetRunID returns the current global run id.
func GetRunID() string {
	return getRunID()
}
