package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Format selects how log lines are rendered.
type Format string

const (
	// FormatConsole renders human-readable lines.
	FormatConsole Format = "console"
	// FormatJSON renders one JSON object per line.
	FormatJSON Format = "json"
)

// OutputOptions configures where log lines go.
type OutputOptions struct {
	Format Format
	// File, when set, receives every line as JSON in addition to the
	// terminal streams.
	File    string
	NoColor bool
	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

var (
	outputMu sync.RWMutex
	stdLog   zerolog.Logger
	errLog   zerolog.Logger
	logFile  *os.File
)

func init() {
	_ = ConfigureOutput(OutputOptions{})
}

// ConfigureOutput replaces the log sinks. DEBUG, INFO and WARN go to
// Stdout; ERROR and FATAL go to Stderr.
func ConfigureOutput(opts OutputOptions) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Format == "" {
		opts.Format = FormatConsole
	}
	if opts.Format != FormatConsole && opts.Format != FormatJSON {
		return fmt.Errorf("invalid log format %q (must be console or json)", opts.Format)
	}

	var file *os.File
	if opts.File != "" {
		// #nosec G304 -- log file path is operator configuration
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
	}

	wrap := func(w io.Writer) io.Writer {
		if opts.Format == FormatConsole {
			w = zerolog.ConsoleWriter{
				Out:           w,
				NoColor:       opts.NoColor,
				TimeFormat:    time.RFC3339,
				PartsOrder:    []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, "logger", zerolog.MessageFieldName},
				FieldsExclude: []string{"logger"},
			}
		}
		if file != nil {
			return zerolog.MultiLevelWriter(w, file)
		}
		return w
	}

	outputMu.Lock()
	defer outputMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = file
	stdLog = zerolog.New(wrap(opts.Stdout))
	errLog = zerolog.New(wrap(opts.Stderr))
	return nil
}

// CloseOutput closes the log file, if any, and resets to the process
// streams.
func CloseOutput() error {
	outputMu.Lock()
	f := logFile
	logFile = nil
	outputMu.Unlock()
	if f != nil {
		if err := f.Close(); err != nil {
			return err
		}
	}
	return ConfigureOutput(OutputOptions{})
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}

// writeLog emits one line through zerolog. WithLevel never exits, so Fatal
// handles termination itself.
func (l *Logger) writeLog(level LogLevel, msg string, fields map[string]interface{}) {
	outputMu.RLock()
	target := stdLog
	if level >= ERROR {
		target = errLog
	}
	outputMu.RUnlock()

	ev := target.WithLevel(zerologLevel(level)).
		Str(zerolog.TimestampFieldName, GetTimestamp()).
		Str("logger", l.name)
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(msg)
}

// logf is the internal logging function for formatted messages
func (l *Logger) logf(level LogLevel, msg string, args ...interface{}) {
	formattedMsg := fmt.Sprintf(msg, args...)
	l.writeLog(level, formattedMsg, l.mergeFields(nil))
}

// mergeFields combines context fields, persistent fields and call fields.
// Later sources win.
func (l *Logger) mergeFields(fields []LogField) map[string]interface{} {
	contextFields := extractContextFields(l.ctx)
	if contextFields == nil && len(l.fields) == 0 && len(fields) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(contextFields)+len(l.fields)+len(fields))
	for k, v := range contextFields {
		merged[k] = v
	}
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	return merged
}

// GetTimestamp returns a formatted timestamp
// Uses RFC3339 format for sortability and timezone awareness
// Can be overridden via LOG_TIMESTAMP env var for testing
func GetTimestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}
