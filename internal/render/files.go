package render

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStats summarises the render output directory.
type FileStats struct {
	Files int
	Bytes int64
}

// FileName returns the output name for a card delivered by a mirror.
func FileName(chatID int64, messageID int, mirrorID int64) string {
	return fmt.Sprintf("message_%d_%d_%d.png", chatID, messageID, mirrorID)
}

// Save writes data under OutputDir and returns the path. It is a no-op
// returning "" when no output directory is configured.
func (r *Renderer) Save(name string, data []byte) (string, error) {
	if r.opts.OutputDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(r.opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create render directory: %w", err)
	}
	path := filepath.Join(r.opts.OutputDir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write render %s: %w", path, err)
	}
	return path, nil
}

// CleanupOlderThan deletes rendered files whose modification time is older
// than maxAge and returns how many were removed.
func (r *Renderer) CleanupOlderThan(maxAge time.Duration) (int, error) {
	if r.opts.OutputDir == "" || maxAge <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(r.opts.OutputDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read render directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".png") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed concurrently
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.opts.OutputDir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		r.logger.Info("Removed old rendered files", "count", removed, "max_age", maxAge)
	}
	return removed, errors.Join(errs...)
}

// Stats counts the files kept in the output directory.
func (r *Renderer) Stats() (FileStats, error) {
	var stats FileStats
	if r.opts.OutputDir == "" {
		return stats, nil
	}
	entries, err := os.ReadDir(r.opts.OutputDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("failed to read render directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".png") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.Files++
		stats.Bytes += info.Size()
	}
	return stats, nil
}
