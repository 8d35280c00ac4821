package util

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrPathNotWritable is returned when a recordings directory cannot be written.
var ErrPathNotWritable = errors.New("path is not writable")

// IsConfigured reports whether all provided values are non-empty.
func IsConfigured(values ...string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
	}
	return true
}

// ValidatePath rejects empty paths and paths containing traversal components.
func ValidatePath(field, path string) error {
	if path == "" {
		return fmt.Errorf("%s: is required", field)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s: path cannot contain '..'", field)
	}
	return nil
}

// CheckPathWritable creates path when missing and verifies a file can be
// written to and removed from it.
func CheckPathWritable(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		slog.Error("path writability check failed", "path", path, "error", err, "step", "mkdir")
		return ErrPathNotWritable
	}

	probe := filepath.Join(path, fmt.Sprintf(".noisetrigger-write-test-%d", time.Now().UnixNano()))
	if err := os.WriteFile(probe, make([]byte, 1024), 0o600); err != nil {
		_ = os.Remove(probe)
		slog.Error("path writability check failed", "path", path, "error", err, "step", "write")
		return ErrPathNotWritable
	}

	if err := os.Remove(probe); err != nil {
		slog.Error("path writability check failed", "path", path, "error", err, "step", "remove")
		return ErrPathNotWritable
	}
	return nil
}
