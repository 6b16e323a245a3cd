package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var (
	logger  = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logFile *os.File
	mu      sync.Mutex
	isSetup bool
)

// SetupLogger sends log records to the given file. An empty path keeps stderr.
// Debug records are only written when debug is true.
func SetupLogger(logFilePath string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	// Check if logger is already set up
	if isSetup {
		return nil
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		out = f
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	logger.Info("simfinder log started", "at", time.Now().Format(time.RFC3339))

	isSetup = true
	return nil
}

// SetOutput replaces the destination; used by tests and the CLI
func SetOutput(w io.Writer, debug bool) {
	mu.Lock()
	defer mu.Unlock()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// CloseLogger closes the log file
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logger.Info("simfinder log closed", "at", time.Now().Format(time.RFC3339))
		logFile.Close()
		logFile = nil
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	isSetup = false
}

// Logger returns the current structured logger
func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// DebugEnabled reports whether debug records are written
func DebugEnabled() bool {
	return Logger().Enabled(context.Background(), slog.LevelDebug)
}

// DebugLog logs a message if debug mode is enabled
func DebugLog(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// LogInfo logs an information message
func LogInfo(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// LogWarning logs a warning message
func LogWarning(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// LogError logs an error message
func LogError(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// LogImageProcessed logs when an image is processed
func LogImageProcessed(path string, success bool, errMsg string) {
	if success {
		Logger().Debug("processed", "path", path)
		return
	}
	Logger().Warn("failed", "path", path, "error", errMsg)
}
