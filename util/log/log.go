// Package log provides the leveled logger used across the client: a
// small wrapper over the standard library's log.Logger backed by
// lumberjack for rotation, matching the LogDebugf/LogWarnf/LogErrorf
// call sites found throughout the sdk packages.
package log

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level gates which severities are emitted.
type Level int32

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var (
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger

	currentLevel int32 = int32(InfoLevel)
	closed       int32
)

func init() {
	// Default to stderr until InitLog points the loggers at a rotated
	// file; this keeps early-init log lines (before a mount point and
	// log dir are known) from being silently dropped.
	debugLogger = log.New(os.Stderr, "[DEBUG] ", log.LstdFlags|log.Lmicroseconds)
	infoLogger = log.New(os.Stderr, "[INFO] ", log.LstdFlags|log.Lmicroseconds)
	warnLogger = log.New(os.Stderr, "[WARN] ", log.LstdFlags|log.Lmicroseconds)
	errorLogger = log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lmicroseconds)
}

// InitLog points the leveled loggers at a rotated file under dir/module.
func InitLog(dir, module string, level Level, maxSizeMB, maxBackups, maxAgeDays int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w := &lumberjack.Logger{
		Filename:   filepath.Join(dir, module+".log"),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	debugLogger = log.New(w, "[DEBUG] ", log.LstdFlags|log.Lmicroseconds)
	infoLogger = log.New(w, "[INFO] ", log.LstdFlags|log.Lmicroseconds)
	warnLogger = log.New(w, "[WARN] ", log.LstdFlags|log.Lmicroseconds)
	errorLogger = log.New(w, "[ERROR] ", log.LstdFlags|log.Lmicroseconds)
	SetLevel(level)
	return nil
}

// SetLevel changes the minimum emitted severity.
func SetLevel(level Level) {
	atomic.StoreInt32(&currentLevel, int32(level))
}

// IsDebugEnabled lets hot paths skip formatting work when debug
// logging is off, mirroring log.IsDebugEnabled() call sites in the
// extent cache and writer/reader pipelines.
func IsDebugEnabled() bool {
	return atomic.LoadInt32(&currentLevel) <= int32(DebugLevel)
}

func enabled(l Level) bool {
	return atomic.LoadInt32(&closed) == 0 && atomic.LoadInt32(&currentLevel) <= int32(l)
}

// LogDebugf logs at debug level.
func LogDebugf(format string, args ...interface{}) {
	if enabled(DebugLevel) {
		debugLogger.Output(2, fmt.Sprintf(format, args...))
	}
}

// LogInfof logs at info level.
func LogInfof(format string, args ...interface{}) {
	if enabled(InfoLevel) {
		infoLogger.Output(2, fmt.Sprintf(format, args...))
	}
}

// LogWarnf logs at warn level.
func LogWarnf(format string, args ...interface{}) {
	if enabled(WarnLevel) {
		warnLogger.Output(2, fmt.Sprintf(format, args...))
	}
}

// LogErrorf logs at error level.
func LogErrorf(format string, args ...interface{}) {
	if enabled(ErrorLevel) {
		errorLogger.Output(2, fmt.Sprintf(format, args...))
	}
}

// LogError logs a pre-formatted error line at error level.
func LogError(msg string) {
	if enabled(ErrorLevel) {
		errorLogger.Output(2, msg)
	}
}

// LogFlush is a no-op for the stderr loggers and exists for call-site
// compatibility with the pack's shutdown sequence, which always calls
// log.LogFlush() before exit.
func LogFlush() {}

// LogClose marks the logger closed; subsequent calls are dropped. Used
// during graceful shutdown to avoid writing to a closed rotation file.
func LogClose() {
	atomic.StoreInt32(&closed, 1)
}
