package helpers

import (
	"fmt"
	"os"
	"sync"
	"time"

	"smartswipe/syncclient/logger"
)

// LoggerInterface defines the interface for logger implementations
type LoggerInterface interface {
	LogError(source string, err error)
	LogInfo(format string, args ...interface{})
}

// Logger appends errors to a file and routes info messages to the structured logger
type Logger struct {
	mu        sync.Mutex
	errorFile string
	log       *logger.Logger
}

// NewLogger creates a new logger instance
func NewLogger(errorFile string) *Logger {
	return &Logger{
		errorFile: errorFile,
		log:       logger.ForWorker(),
	}
}

// LogError logs an error to the error file with its source and timestamp
func (l *Logger) LogError(source string, err error) {
	l.log.Error().Str("source", source).Err(err).Msg("sync error")

	if l.errorFile == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, fileErr := os.OpenFile(l.errorFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if fileErr != nil {
		l.log.Warn().Err(fileErr).Str("file", l.errorFile).Msg("cannot open error log")
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "[%s] [%s] %s\n", timestamp, source, err.Error())
}

// LogInfo logs an informational message
func (l *Logger) LogInfo(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}
