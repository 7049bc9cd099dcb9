package tasks

import (
	"context"
	"fmt"
)

func newRenderCleanupTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "render_cleanup")

	return func(ctx context.Context) error {
		removed, err := deps.Renderer.CleanupOlderThan(deps.Config.Render.Retention)
		if err != nil {
			return fmt.Errorf("render cleanup failed after removing %d files: %w", removed, err)
		}
		log.InfoContext(ctx, "Render cleanup finished", "removed", removed)
		return nil
	}
}
