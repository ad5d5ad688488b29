package recording

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StaleSegmentAge is how old a spooled segment must be before SweepSpool
// removes it. Segments are never retried, so anything this old was orphaned
// by a crash.
const StaleSegmentAge = 10 * time.Minute

// SweepSpool removes orphaned segment files from dir and returns how many
// were deleted. Files of a running pipeline are younger than maxAge.
func SweepSpool(dir string, maxAge time.Duration) int {
	matches, err := filepath.Glob(filepath.Join(dir, segmentPattern))
	if err != nil {
		slog.Warn("cleanup: invalid spool pattern", "dir", dir, "error", err)
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	var deleted int
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("cleanup: failed to delete stale segment", "path", path, "error", err)
			continue
		}
		deleted++
		slog.Debug("cleanup: deleted stale segment", "file", filepath.Base(path))
	}

	if deleted > 0 {
		slog.Info("cleanup: deleted stale segments", "dir", dir, "count", deleted)
	}
	return deleted
}
