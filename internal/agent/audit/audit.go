// Package audit records diagnostic sessions to a JSONL file. Each line is one
// event (provider call, tool run, analysis, pause, result) so a session can be
// replayed or inspected after the fact.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeSessionStart marks the start of a new session.
	EventTypeSessionStart EventType = "session_start"
	// EventTypeUserMessage marks a problem statement or follow-up from the user.
	EventTypeUserMessage EventType = "user_message"
	// EventTypeProviderRequest marks a prompt sent to the inference provider.
	EventTypeProviderRequest EventType = "provider_request"
	// EventTypeProviderResponse marks a reply (or failure) from the provider.
	EventTypeProviderResponse EventType = "provider_response"
	// EventTypeToolStart marks the start of a tool call.
	EventTypeToolStart EventType = "tool_start"
	// EventTypeToolComplete marks the completion of a tool call.
	EventTypeToolComplete EventType = "tool_complete"
	// EventTypeAnalysis marks interim analysis text from the model.
	EventTypeAnalysis EventType = "analysis"
	// EventTypeResult marks the loop handing control back to the caller.
	EventTypeResult EventType = "result"
	// EventTypeError marks an error during processing.
	EventTypeError EventType = "error"
	// EventTypeSessionEnd marks the end of a session.
	EventTypeSessionEnd EventType = "session_end"
)

// maxTextLen bounds free text stored per event.
const maxTextLen = 4000

// Event represents a single audit log event.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// Type is the event type.
	Type EventType `json:"type"`
	// SessionID is the session identifier.
	SessionID string `json:"session_id"`
	// Data contains event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Logger writes audit events to a JSONL file.
type Logger struct {
	file      *os.File
	writer    *bufio.Writer
	mutex     sync.Mutex
	sessionID string
	now       func() time.Time
}

// NewLogger creates a new audit logger that writes to the specified file path.
// If the file exists, new events are appended.
func NewLogger(filePath, sessionID string) (*Logger, error) {
	// #nosec G304 -- Audit log path is intentionally configurable by user
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		file:      file,
		writer:    bufio.NewWriter(file),
		sessionID: sessionID,
		now:       time.Now,
	}, nil
}

// SessionID returns the id stamped on every event.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// write writes an event to the audit log.
func (l *Logger) write(typ EventType, data map[string]interface{}) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	event := Event{
		Timestamp: l.now(),
		Type:      typ,
		SessionID: l.sessionID,
		Data:      data,
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := l.writer.Write(encoded); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	if _, err := l.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for crash safety
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit log: %w", err)
	}

	return nil
}

// LogSessionStart logs the start of a new session.
func (l *Logger) LogSessionStart(provider, model string, budget int) error {
	return l.write(EventTypeSessionStart, map[string]interface{}{
		"provider": provider,
		"model":    model,
		"budget":   budget,
	})
}

// LogUserMessage logs a user input message.
func (l *Logger) LogUserMessage(message string) error {
	return l.write(EventTypeUserMessage, map[string]interface{}{
		"message": truncateString(message, maxTextLen),
	})
}

// LogProviderRequest logs a prompt about to be sent.
func (l *Logger) LogProviderRequest(provider string, promptBytes, used, budget int) error {
	return l.write(EventTypeProviderRequest, map[string]interface{}{
		"provider":     provider,
		"prompt_bytes": promptBytes,
		"tool_calls":   used,
		"budget":       budget,
	})
}

// LogProviderResponse logs a reply or the provider failure.
func (l *Logger) LogProviderResponse(provider, reply string, duration time.Duration, err error) error {
	data := map[string]interface{}{
		"provider":    provider,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	} else {
		data["reply"] = truncateString(reply, maxTextLen)
	}
	return l.write(EventTypeProviderResponse, data)
}

// LogToolStart logs the start of a tool call.
func (l *Logger) LogToolStart(toolName string, args map[string]interface{}) error {
	return l.write(EventTypeToolStart, map[string]interface{}{
		"tool_name": toolName,
		"args":      args,
	})
}

// LogToolComplete logs the completion of a tool call.
func (l *Logger) LogToolComplete(toolName, command string, success bool, duration time.Duration, output string) error {
	return l.write(EventTypeToolComplete, map[string]interface{}{
		"tool_name":   toolName,
		"command":     command,
		"success":     success,
		"duration_ms": duration.Milliseconds(),
		"output":      truncateString(output, maxTextLen),
	})
}

// LogAnalysis logs interim analysis text.
func (l *Logger) LogAnalysis(content string) error {
	return l.write(EventTypeAnalysis, map[string]interface{}{
		"content": truncateString(content, maxTextLen),
	})
}

// LogResult logs the outcome handed back to the caller.
func (l *Logger) LogResult(kind, state string, used, budget int, detail string) error {
	return l.write(EventTypeResult, map[string]interface{}{
		"kind":       kind,
		"state":      state,
		"tool_calls": used,
		"budget":     budget,
		"detail":     truncateString(detail, maxTextLen),
	})
}

// LogError logs an error.
func (l *Logger) LogError(err error) error {
	return l.write(EventTypeError, map[string]interface{}{
		"error": err.Error(),
	})
}

// LogSessionEnd logs the end of a session.
func (l *Logger) LogSessionEnd(duration time.Duration) error {
	return l.write(EventTypeSessionEnd, map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	})
}

// Close closes the audit logger and flushes any pending writes.
func (l *Logger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var errs []error

	if err := l.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush audit log: %w", err))
	}

	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit log file: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing audit log: %v", errs)
	}

	return nil
}

// ReadFile loads every event from an audit log, optionally keeping only one
// session.
func ReadFile(filePath, sessionID string) ([]Event, error) {
	// #nosec G304 -- Audit log path is intentionally configurable by user
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if sessionID != "" && event.SessionID != sessionID {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return events, nil
}

// truncateString truncates a string to maxLen bytes.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
