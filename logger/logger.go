package logger

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger represents a structured logger
type Logger struct {
	logger zerolog.Logger
}

var (
	// Default is the default logger instance
	Default *Logger

	initOnce sync.Once
)

// Init initializes the logger with the given configuration
func Init() {
	level := getLogLevel()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(level)

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	Default = &Logger{logger: logger}

	Default.Debug().
		Str("level", level.String()).
		Msg("Logger initialized")
}

// ensure lazily initializes the default logger exactly once
func ensure() *Logger {
	initOnce.Do(func() {
		if Default == nil {
			Init()
		}
	})
	return Default
}

// getLogLevel returns the log level from environment variable
func getLogLevel() zerolog.Level {
	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		if os.Getenv("SMARTSWIPE_ENVIRONMENT") == "production" {
			return zerolog.InfoLevel
		}
		return zerolog.DebugLevel
	}

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithField creates a new logger with a single field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

// Debug returns a debug event
func (l *Logger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

// Info returns an info event
func (l *Logger) Info() *zerolog.Event {
	return l.logger.Info()
}

// Warn returns a warn event
func (l *Logger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

// Error returns an error event
func (l *Logger) Error() *zerolog.Event {
	return l.logger.Error()
}

// Fatal returns a fatal event
func (l *Logger) Fatal() *zerolog.Event {
	return l.logger.Fatal()
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	ensure().Info().Msgf(format, v...)
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	ensure().Warn().Msgf(format, v...)
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	ensure().Error().Msgf(format, v...)
}

// ForComponent creates a logger tagged with a component name
func ForComponent(name string) *Logger {
	return ensure().WithField("component", name)
}

// ForStore creates a logger for the persistent cache store
func ForStore() *Logger {
	return ForComponent("store")
}

// ForLoader creates a logger for a named data loader
func ForLoader(name string) *Logger {
	return ForComponent("loader").WithField("resource", name)
}

// ForBus creates a logger for the invalidation bus
func ForBus() *Logger {
	return ForComponent("bus")
}

// ForAPI creates a logger for the backend client
func ForAPI() *Logger {
	return ForComponent("api")
}

// ForLink creates a logger for the account-linking widget adapter
func ForLink() *Logger {
	return ForComponent("link")
}

// ForSession creates a logger for the auth session
func ForSession() *Logger {
	return ForComponent("session")
}

// ForWorker creates a logger for the worker
func ForWorker() *Logger {
	return ForComponent("worker")
}

// ForScreen creates a logger for a screen
func ForScreen(screen string) *Logger {
	return ForComponent("screen").WithField("screen", screen)
}
