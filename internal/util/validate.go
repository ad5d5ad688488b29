package util

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

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
	if strings.Contains(filepath.Clean(path), "..") {
		return fmt.Errorf("%s: invalid path", field)
	}
	return nil
}

// CheckPathWritable creates path if needed and verifies a file can be written in it.
func CheckPathWritable(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		slog.Error("spool directory not writable", "path", path, "error", err, "step", "mkdir")
		return fmt.Errorf("path is not writable: %w", err)
	}

	probe := filepath.Join(path, fmt.Sprintf(".recorder-write-test-%d", time.Now().UnixNano()))
	if err := os.WriteFile(probe, make([]byte, 1024), 0o600); err != nil {
		_ = os.Remove(probe)
		slog.Error("spool directory not writable", "path", path, "error", err, "step", "write")
		return fmt.Errorf("path is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		slog.Error("spool directory not writable", "path", path, "error", err, "step", "remove")
		return fmt.Errorf("path is not writable: %w", err)
	}
	return nil
}
