// Package tasks implements the scheduled housekeeping jobs of the mirror bot:
// database maintenance, pruning of old message mappings and cleanup of
// rendered card files.
package tasks

import (
	"log/slog"
	"time"

	"github.com/edgard/tgmirror/internal/config"
	"github.com/edgard/tgmirror/internal/database"
)

// FileCleaner removes files older than a given age. *render.Renderer implements it.
type FileCleaner interface {
	CleanupOlderThan(maxAge time.Duration) (int, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Config   *config.Config
	Renderer FileCleaner
}
