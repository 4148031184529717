package compaction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bookinglake/bookinglake/internal/storage"
)

// GarbageCollector removes per-event objects once their rows are in a
// published compacted file.
type GarbageCollector struct {
	storage storage.ObjectStorage
	logger  *zap.Logger
}

// NewGarbageCollector creates a new garbage collector.
func NewGarbageCollector(store storage.ObjectStorage, logger *zap.Logger) *GarbageCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GarbageCollector{storage: store, logger: logger}
}

// GCResult holds the outcome of a garbage collection run.
type GCResult struct {
	Deleted []string
	Errors  []string
}

// Collect deletes keys. Failures are reported, not returned: the compacted
// file records its sources, so the next run deletes a leftover without
// folding it in again.
func (gc *GarbageCollector) Collect(ctx context.Context, keys []string) *GCResult {
	result := &GCResult{}
	for _, key := range keys {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", key, ctx.Err()))
			continue
		}
		if err := gc.storage.Delete(ctx, key); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		result.Deleted = append(result.Deleted, key)
	}

	if len(result.Errors) > 0 {
		gc.logger.Warn("failed to delete compacted sources",
			zap.Int("failed", len(result.Errors)),
			zap.Strings("errors", result.Errors))
	}
	return result
}
