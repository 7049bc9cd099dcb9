package tasks

import (
	"context"
	"fmt"
	"time"
)

// newMappingPruneTask drops message mappings and stored source messages older
// than the configured retention. Edits and deletes of older messages are then
// no longer propagated. A zero retention keeps everything.
func newMappingPruneTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "mapping_prune")

	return func(ctx context.Context) error {
		retention := deps.Config.Database.MappingRetention
		if retention <= 0 {
			log.DebugContext(ctx, "Mapping retention disabled, nothing to prune")
			return nil
		}

		cutoff := time.Now().Add(-retention)
		mappings, err := deps.Store.PruneMappings(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune mappings: %w", err)
		}
		messages, err := deps.Store.PruneMessages(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune messages: %w", err)
		}

		log.InfoContext(ctx, "Pruned old mirror history",
			"mappings_removed", mappings,
			"messages_removed", messages,
			"cutoff", cutoff.Format(time.RFC3339))
		return nil
	}
}
