// Package compaction folds a day's per-event objects into one daily file.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/partition"
	"github.com/bookinglake/bookinglake/internal/storage"
)

// SourcesMetadataKey names the compacted file metadata entry listing every
// per-event object folded into it, one key per line.
const SourcesMetadataKey = "bookinglake.sources"

// Result describes one compaction run.
type Result struct {
	Day      string   `json:"day"`
	Key      string   `json:"key"`
	Sources  []string `json:"sources"`
	Rows     int64    `json:"rows"`
	Deleted  int      `json:"deleted"`
	Warnings []string `json:"warnings,omitempty"`
}

// Compactor folds per-event objects of one UTC day into the compacted key.
type Compactor struct {
	store      storage.ObjectStorage
	codec      *partition.Codec
	resolver   *partition.Resolver
	downloader *storage.BatchDownloader
	uploader   *partition.Uploader
	gc         *GarbageCollector
	verifier   *Verifier
	workDir    string
	logger     *zap.Logger
}

// NewCompactor creates a compactor. cfg.DownloadConcurrency bounds parallel
// downloads.
func NewCompactor(store storage.ObjectStorage, codec *partition.Codec, resolver *partition.Resolver, cfg Config, logger *zap.Logger) *Compactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("compaction")
	return &Compactor{
		store:      store,
		codec:      codec,
		resolver:   resolver,
		downloader: storage.NewBatchDownloader(store, cfg.DownloadConcurrency),
		uploader:   partition.NewUploader(store, codec, logger),
		gc:         NewGarbageCollector(store, logger),
		verifier:   NewVerifier(),
		workDir:    cfg.WorkDir,
		logger:     logger,
	}
}

// CompactDay compacts the per-event objects written on the UTC date of day.
// An existing compacted file for the day is folded in first, so late events
// can be compacted by a later run. Sources are deleted only after the
// compacted file has been published.
func (c *Compactor) CompactDay(ctx context.Context, day time.Time) (*Result, error) {
	target := c.resolver.Compacted(day)
	result := &Result{Day: day.UTC().Format("2006-01-02"), Key: target.Object}

	sources, err := c.store.ListObjects(ctx, c.resolver.EventDayPrefix(day))
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeListFailed, "failed to list per-event objects", err)
	}
	sources = parquetOnly(sources)
	if len(sources) == 0 {
		c.logger.Debug("nothing to compact", zap.String("day", result.Day))
		return result, nil
	}

	scratch, err := partition.NewScratch(c.workDir)
	if err != nil {
		return nil, err
	}
	defer scratch.Cleanup()

	// Fold in an earlier compaction of the same day, guarded by its ETag.
	// Sources it already holds are left out so a source whose deletion
	// failed last time is not counted twice.
	pre := partition.Precondition{Kind: partition.IfAbsent}
	folded := map[string]bool{}
	var tables []arrow.Table
	defer func() {
		for _, t := range tables {
			t.Release()
		}
	}()

	previousPath := filepath.Join(scratch.Dir(), "previous.parquet")
	etag, err := c.store.Download(ctx, target.Object, previousPath)
	switch {
	case err == nil:
		prev, err := c.codec.ReadFile(ctx, previousPath)
		if err != nil {
			return nil, fmt.Errorf("compacted file %s: %w", target.Object, err)
		}
		tables = append(tables, prev)
		pre = partition.Precondition{Kind: partition.IfMatch, ETag: etag}

		listed, _, err := c.codec.ReadMetadataValue(previousPath, SourcesMetadataKey)
		if err != nil {
			return nil, err
		}
		for _, k := range splitSources(listed) {
			folded[k] = true
		}
	case errors.Is(err, storage.ErrObjectNotFound):
	default:
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "failed to download compacted file", err)
	}
	baseRows := int64(0)
	if len(tables) == 1 {
		baseRows = tables[0].NumRows()
	}

	var fresh, stale []string
	for _, key := range sources {
		if folded[key] {
			stale = append(stale, key)
		} else {
			fresh = append(fresh, key)
		}
	}
	if len(fresh) == 0 {
		c.logger.Info("sources already compacted", zap.String("day", result.Day), zap.Int("leftover", len(stale)))
		gcResult := c.gc.Collect(ctx, stale)
		result.Deleted = len(gcResult.Deleted)
		result.Warnings = gcResult.Errors
		return result, nil
	}

	fetched, err := c.downloader.Download(ctx, fresh, filepath.Join(scratch.Dir(), "sources"))
	if err != nil {
		return nil, apperrors.NewScratchError("failed to prepare download dir", err)
	}
	for _, key := range fresh {
		if ferr, ok := fetched.Errors[key]; ok {
			return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed,
				fmt.Sprintf("failed to download %d of %d sources", len(fetched.Errors), len(fresh)), ferr).
				WithDetails(map[string]interface{}{"key": key})
		}
	}

	var sourceRows []int64
	for _, key := range fresh {
		tbl, err := c.codec.ReadFile(ctx, fetched.Files[key].LocalPath)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", key, err)
		}
		tables = append(tables, tbl)
		sourceRows = append(sourceRows, tbl.NumRows())
	}

	combined, err := partition.Concat(c.codec.Registry().Arrow(), tables...)
	if err != nil {
		return nil, err
	}
	defer combined.Release()

	if vr := c.verifier.Verify(baseRows, sourceRows, combined.NumRows()); !vr.Valid {
		return nil, apperrors.NewInternalError(strings.Join(vr.Errors, "; "), nil)
	}

	for _, key := range fresh {
		folded[key] = true
	}
	kv := map[string]string{SourcesMetadataKey: joinSources(folded)}
	if _, err := c.uploader.PublishWithMetadata(ctx, combined, target.Object, pre, scratch, kv); err != nil {
		return nil, err
	}

	result.Sources = fresh
	result.Rows = combined.NumRows()
	c.logger.Info("compacted day",
		zap.String("day", result.Day),
		zap.String("key", target.Object),
		zap.Int("sources", len(fresh)),
		zap.Int64("rows", result.Rows))

	gcResult := c.gc.Collect(ctx, append(fresh, stale...))
	result.Deleted = len(gcResult.Deleted)
	result.Warnings = gcResult.Errors

	return result, nil
}

func parquetOnly(keys []string) []string {
	out := keys[:0]
	for _, k := range keys {
		if strings.HasSuffix(k, ".parquet") {
			out = append(out, k)
		}
	}
	return out
}

func splitSources(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, "\n")
}

func joinSources(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, "\n")
}
