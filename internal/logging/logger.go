// Package logging provides structured logging for raid.
//
// Components get a named logger and log printf-style messages or structured
// fields. Output goes through zerolog, as console lines on a terminal or as
// JSON when configured, with an optional log file.
//
//	logging.Initialize("info")
//	logger := logging.GetLogger("session")
//	logger.Info("starting session (budget %d)", 10)
//	logger.InfoWithFields("tool finished",
//	    logging.Field("tool", "kubectl_get_pods"),
//	    logging.Field("duration_ms", 120),
//	)
//
// Child loggers carry persistent fields and an optional context from which
// trace and span ids are extracted:
//
//	log := logger.WithContext(ctx).WithField("session_id", id)
//
// Per-package levels override the default, with "pkg.*" wildcards:
//
//	logging.Initialize("info", map[string]string{"session.*": "debug", "tools": "warn"})
//
// Fatal logs terminate the process with exit code 1. Loggers are immutable
// and safe for concurrent use. Set LOG_TIMESTAMP for deterministic output in
// tests.
package logging

import (
	"context"
	"os"
	"sync"
)

var (
	globalLogger *Logger
	initOnce     sync.Once
	// exitFunc is the function called by Fatal to terminate the program.
	// Defaults to os.Exit, can be overridden for testing.
	exitFunc = os.Exit
)

// Initialize initializes the global logger with the specified default level
// and optional per-package log level overrides.
// packageLevels is a map of package patterns to level strings.
// Example: {"session.*": "DEBUG", "tools": "WARN"}
func Initialize(levelStr string, packageLevels ...map[string]string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		level = INFO
	}

	globalLogger = &Logger{
		level: level,
		name:  "raid",
	}

	// Set up per-package log levels if provided
	if len(packageLevels) > 0 && packageLevels[0] != nil {
		if err := SetPackageLogLevels(packageLevels[0]); err != nil {
			return err
		}
	}

	return nil
}

// GetLogger returns a logger with the specified name
// Thread-safe: uses sync.Once to ensure single initialization
func GetLogger(name string) *Logger {
	initOnce.Do(func() {
		if globalLogger == nil {
			_ = Initialize("info")
		}
	})
	return &Logger{
		level:  globalLogger.level,
		name:   name,
		fields: make(map[string]interface{}),
	}
}

// shouldLog checks if a log message at the given level should be output
// Considers both the logger's level and any per-package level overrides
func (l *Logger) shouldLog(level LogLevel) bool {
	// Check package-specific overrides first
	if pkgLevel := GetPackageLogLevel(l.name); pkgLevel >= 0 {
		return level >= pkgLevel
	}
	// Fall back to logger's level
	return level >= l.level
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.logf(DEBUG, msg, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.shouldLog(INFO) {
		l.logf(INFO, msg, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.shouldLog(WARN) {
		l.logf(WARN, msg, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.shouldLog(ERROR) {
		l.logf(ERROR, msg, args...)
	}
}

// Fatal logs a fatal message and exits the program with code 1
func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.shouldLog(FATAL) {
		l.logf(FATAL, msg, args...)
		exitFunc(1)
	}
}

// FatalWithFields logs a fatal message with structured fields and exits the program with code 1
func (l *Logger) FatalWithFields(msg string, fields ...LogField) {
	if l.shouldLog(FATAL) {
		l.logWithFields(FATAL, msg, fields...)
		exitFunc(1)
	}
}

// ErrorWithErr logs an error message with an error object
func (l *Logger) ErrorWithErr(msg string, err error, args ...interface{}) {
	if l.shouldLog(ERROR) {
		args = append(args, err)
		l.logf(ERROR, msg+" - %v", args...)
	}
}

// WithName returns a new logger with a custom name
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		level:  l.level,
		name:   name,
		fields: make(map[string]interface{}),
		ctx:    l.ctx,
	}
}

// WithField adds a structured field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	newLogger := &Logger{
		level:  l.level,
		name:   l.name,
		fields: cloneFields(l.fields),
		ctx:    l.ctx,
	}
	newLogger.fields[key] = value
	return newLogger
}

// WithFields adds multiple structured fields to the logger
func (l *Logger) WithFields(fields ...LogField) *Logger {
	newLogger := &Logger{
		level:  l.level,
		name:   l.name,
		fields: cloneFields(l.fields),
		ctx:    l.ctx,
	}
	// Add new fields
	for _, f := range fields {
		newLogger.fields[f.Key] = f.Value
	}
	return newLogger
}

// WithContext returns a new logger with the provided context attached.
// The context is used to extract trace_id and span_id values if present.
// These fields are automatically included in all log messages from the returned logger.
// If ctx is nil, this method returns a logger without context support.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		level:  l.level,
		name:   l.name,
		fields: cloneFields(l.fields),
		ctx:    ctx,
	}
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(msg string, fields ...LogField) {
	if l.shouldLog(DEBUG) {
		l.logWithFields(DEBUG, msg, fields...)
	}
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(msg string, fields ...LogField) {
	if l.shouldLog(INFO) {
		l.logWithFields(INFO, msg, fields...)
	}
}

// WarnWithFields logs a warning message with structured fields
func (l *Logger) WarnWithFields(msg string, fields ...LogField) {
	if l.shouldLog(WARN) {
		l.logWithFields(WARN, msg, fields...)
	}
}

// ErrorWithFields logs an error message with structured fields
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) {
	if l.shouldLog(ERROR) {
		l.logWithFields(ERROR, msg, fields...)
	}
}

// logWithFields logs a message with structured fields
func (l *Logger) logWithFields(level LogLevel, msg string, fields ...LogField) {
	l.writeLog(level, msg, l.mergeFields(fields))
}
