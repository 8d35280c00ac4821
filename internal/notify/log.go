package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/trigger"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/util"
)

// LogEntry is one line in the notification log file.
type LogEntry struct {
	Timestamp   string  `json:"timestamp"`
	Event       string  `json:"event"`
	File        string  `json:"file,omitempty"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	EventCount  uint64  `json:"event_count,omitempty"`
	Rotated     bool    `json:"rotated,omitempty"`
	LevelDB     float64 `json:"level_db,omitempty"`
	ThresholdDB float64 `json:"threshold_db,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// LogEvent appends a recording event to the log file.
func LogEvent(logPath string, ev *trigger.Event) error {
	entry := &LogEntry{
		Timestamp:   ev.Time.UTC().Format(time.RFC3339),
		Event:       string(ev.Kind),
		File:        filepath.Base(ev.Path),
		DurationMs:  ev.Duration.Milliseconds(),
		EventCount:  ev.EventCount,
		Rotated:     ev.Rotated,
		LevelDB:     ev.LevelDB,
		ThresholdDB: ev.ThresholdDB,
	}
	if ev.Path == "" {
		entry.File = ""
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}
	return appendLogEntry(logPath, entry)
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &LogEntry{
		Timestamp: timestampUTC(),
		Event:     "test",
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *LogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // Path comes from the operator's config file
	if err != nil {
		return util.WrapError("open log file", err)
	}

	_, writeErr := f.Write(append(jsonData, '\n'))
	closeErr := f.Close()
	if writeErr != nil {
		return util.WrapError("write log entry", writeErr)
	}
	if closeErr != nil {
		return util.WrapError("close log file", closeErr)
	}
	return nil
}
