// Package eventlog records recorder events (recordings, uploads, cleanup)
// in a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Recording event types.
const (
	RecordingStarted  EventType = "recording_started"
	RecordingFinished EventType = "recording_finished"
	RecordingFailed   EventType = "recording_failed"
)

// Storage event types.
const (
	UploadQueued     EventType = "upload_queued"
	UploadCompleted  EventType = "upload_completed"
	UploadFailed     EventType = "upload_failed"
	UploadAbandoned  EventType = "upload_abandoned"
	CleanupCompleted EventType = "cleanup_completed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// RecordingDetails contains recording-specific event details.
type RecordingDetails struct {
	Filename    string  `json:"filename,omitempty"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	EventCount  uint64  `json:"event_count,omitempty"`
	LevelDB     float64 `json:"level_db,omitempty"`
	ThresholdDB float64 `json:"threshold_db,omitempty"`
	Rotated     bool    `json:"rotated,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// StorageDetails contains upload and cleanup event details.
type StorageDetails struct {
	Filename     string `json:"filename,omitempty"`
	S3Key        string `json:"s3_key,omitempty"`
	Error        string `json:"error,omitempty"`
	RetryCount   int    `json:"retry,omitempty"`
	FilesDeleted int    `json:"files_deleted,omitempty"`
	StorageType  string `json:"storage_type,omitempty"` // "local" or "s3" for cleanup
}

// Logger writes events to a JSON lines file. A nil *Logger discards events.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "noisetrigger", "logs", strconv.Itoa(port), "events.jsonl")
	default:
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/noisetrigger", strconv.Itoa(port), "events.jsonl")
	}
}

// NewLogger opens (or creates) the event log at filePath for appending.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // Path comes from the operator's config file
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

// LogRecording logs a recording lifecycle event.
func (l *Logger) LogRecording(eventType EventType, at time.Time, details *RecordingDetails) error {
	return l.Log(&Event{Timestamp: at, Type: eventType, Details: details})
}

// LogStorage logs an upload or cleanup event.
func (l *Logger) LogStorage(eventType EventType, details *StorageDetails) error {
	return l.Log(&Event{Timestamp: time.Now(), Type: eventType, Details: details})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterRecording TypeFilter = "recording"
	FilterStorage   TypeFilter = "storage"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// Matches reports whether t passes filter f.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterRecording:
		return IsRecordingEvent(t)
	case FilterStorage:
		return !IsRecordingEvent(t)
	default:
		return true
	}
}

// ReadLast returns up to n events starting at offset, newest first, and
// whether older matching events remain. n is capped at MaxReadLimit.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath) //nolint:gosec // Path comes from the operator's config file
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}
	return events, false, nil
}

// Recent returns the last n events of the logger's file, newest first.
func (l *Logger) Recent(n int) ([]Event, error) {
	if l == nil {
		return []Event{}, nil
	}
	events, _, err := ReadLast(l.filePath, n, 0, FilterAll)
	return events, err
}

// IsRecordingEvent returns true if the event type is a recording lifecycle event.
func IsRecordingEvent(t EventType) bool {
	return t == RecordingStarted || t == RecordingFinished || t == RecordingFailed
}
