package partition

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.uber.org/zap"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/storage"
	"github.com/bookinglake/bookinglake/pkg/types"
)

// MergeResult is the combined dataset ready to publish.
type MergeResult struct {
	// Table holds the prior rows followed by the new row.
	Table arrow.Table
	// Key is the canonical object the table must be written to.
	Key types.PartitionKey
	// Source is the object that was merged, empty when none existed.
	Source string
	// ExistingRows is the row count read from Source.
	ExistingRows int64
	// Precondition guards the publish against concurrent writers.
	Precondition Precondition
}

// Release frees the combined table.
func (r *MergeResult) Release() {
	if r.Table != nil {
		r.Table.Release()
		r.Table = nil
	}
}

// Merger reads the current partition for a key and appends new rows to it.
type Merger struct {
	store  storage.ObjectStorage
	codec  *Codec
	logger *zap.Logger
}

// NewMerger creates a merger.
func NewMerger(store storage.ObjectStorage, codec *Codec, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{store: store, codec: codec, logger: logger.Named("merger")}
}

// Merge lists key.Prefix, downloads the chosen partition into scratch,
// decodes it, and appends rows. When nothing exists the result is rows alone.
// Reading the canonical object yields an If-Match precondition on its ETag;
// anything else yields If-Absent so a concurrently created canonical object
// is never overwritten.
func (m *Merger) Merge(ctx context.Context, key types.PartitionKey, rows arrow.Record, scratch *Scratch) (*MergeResult, error) {
	listed, err := m.store.ListObjects(ctx, key.Prefix)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeListFailed, "failed to list partitions", err).
			WithDetails(map[string]interface{}{"prefix": key.Prefix})
	}

	source, found := SelectExisting(key, listed)
	if !found {
		m.logger.Info("no existing partition", zap.String("prefix", key.Prefix))
		return &MergeResult{
			Table:        array.NewTableFromRecords(m.codec.Registry().Arrow(), []arrow.Record{rows}),
			Key:          key,
			Precondition: Precondition{Kind: IfAbsent},
		}, nil
	}

	local := filepath.Join(scratch.Dir(), "existing.parquet")
	etag, err := m.store.Download(ctx, source, local)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			// Listed but deleted before we read it; the caller re-merges.
			return nil, apperrors.NewStorageError(apperrors.CodeWriteConflict,
				"partition disappeared while merging", err).
				WithDetails(map[string]interface{}{"key": source})
		}
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "failed to download partition", err).
			WithDetails(map[string]interface{}{"key": source})
	}

	existing, err := m.codec.ReadFile(ctx, local)
	if err != nil {
		var pe *apperrors.PipelineError
		if errors.As(err, &pe) {
			return nil, pe.WithDetails(map[string]interface{}{"key": source})
		}
		return nil, err
	}
	defer existing.Release()

	m.logger.Info("existing partition found",
		zap.String("key", source),
		zap.Int64("rows", existing.NumRows()))

	combined, err := Append(existing, rows)
	if err != nil {
		return nil, err
	}

	pre := Precondition{Kind: IfAbsent}
	if source == key.Object {
		pre = Precondition{Kind: IfMatch, ETag: etag}
	}

	return &MergeResult{
		Table:        combined,
		Key:          key,
		Source:       source,
		ExistingRows: existing.NumRows(),
		Precondition: pre,
	}, nil
}

// Append returns a new table holding every batch of tbl followed by recs.
// Schemas must be equal; batch boundaries are preserved.
func Append(tbl arrow.Table, recs ...arrow.Record) (arrow.Table, error) {
	var batches []arrow.Record
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()

	tr := array.NewTableReader(tbl, -1)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		rec.Retain()
		batches = append(batches, rec)
	}
	if err := tr.Err(); err != nil {
		return nil, apperrors.NewCodecError(apperrors.CodeCorruptPartition, "failed to read partition batches", err)
	}

	for _, rec := range recs {
		if !rec.Schema().Equal(tbl.Schema()) {
			return nil, apperrors.NewContractViolation("appended record schema differs from partition schema")
		}
		rec.Retain()
		batches = append(batches, rec)
	}

	return array.NewTableFromRecords(tbl.Schema(), batches), nil
}

// Concat returns a new table holding every batch of tables in order. Each
// table must already conform to schema.
func Concat(schema *arrow.Schema, tables ...arrow.Table) (arrow.Table, error) {
	var batches []arrow.Record
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()

	for _, tbl := range tables {
		if !tbl.Schema().Equal(schema) {
			return nil, apperrors.NewContractViolation("concatenated table schema differs from partition schema")
		}
		tr := array.NewTableReader(tbl, -1)
		for tr.Next() {
			rec := tr.Record()
			rec.Retain()
			batches = append(batches, rec)
		}
		err := tr.Err()
		tr.Release()
		if err != nil {
			return nil, apperrors.NewCodecError(apperrors.CodeCorruptPartition, "failed to read partition batches", err)
		}
	}

	return array.NewTableFromRecords(schema, batches), nil
}
