package pipeline

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/logging"
	"github.com/bookinglake/bookinglake/internal/partition"
	"github.com/bookinglake/bookinglake/internal/schema"
	"github.com/bookinglake/bookinglake/internal/storage"
	"github.com/bookinglake/bookinglake/internal/validation"
)

// Ingestor appends each booking to the daily-merge partition of the
// current UTC processing date.
type Ingestor struct {
	validator *validation.Validator
	builder   *partition.RowBuilder
	resolver  *partition.Resolver
	merger    *partition.Merger
	uploader  *partition.Uploader
	config    Config
	logger    *zap.Logger
}

// NewIngestor wires an ingestor for the registry against store.
func NewIngestor(reg *schema.Registry, store storage.ObjectStorage, resolver *partition.Resolver, cfg Config, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = 0
	}
	if cfg.ConflictBackoff == 0 {
		cfg.ConflictBackoff = DefaultConflictBackoff
	}
	codec := partition.NewCodec(reg, memory.DefaultAllocator)
	return &Ingestor{
		validator: validation.New(reg),
		builder:   partition.NewRowBuilder(reg, memory.DefaultAllocator),
		resolver:  resolver,
		merger:    partition.NewMerger(store, codec, logger),
		uploader:  partition.NewUploader(store, codec, logger),
		config:    cfg,
		logger:    logger.Named("ingestor"),
	}
}

// Process implements Processor.
func (in *Ingestor) Process(ctx context.Context, body []byte) (*Result, error) {
	return in.Ingest(ctx, body)
}

// Ingest decodes, validates and appends one booking body.
func (in *Ingestor) Ingest(ctx context.Context, body []byte) (*Result, error) {
	log := logging.For(ctx, in.logger)
	log.Info("received message", zap.Int("bytes", len(body)))

	msg, err := validation.DecodeMessage(body)
	if err != nil {
		log.Info("rejected message", zap.Error(err))
		return nil, err
	}
	return in.IngestMessage(ctx, msg)
}

// IngestMessage validates and appends one decoded booking.
func (in *Ingestor) IngestMessage(ctx context.Context, msg validation.Message) (*Result, error) {
	log := logging.For(ctx, in.logger)

	rec, err := in.validator.Validate(msg)
	if err != nil {
		log.Info("rejected message", zap.Error(err))
		return nil, err
	}
	log.Info("validated message", zap.Int("fields", len(rec.Values)))

	row, err := in.builder.Build(rec)
	if err != nil {
		return nil, err
	}
	defer row.Release()

	scratch, err := partition.NewScratch(in.config.ScratchDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := scratch.Cleanup(); err != nil {
			log.Warn("failed to remove scratch dir", zap.String("dir", scratch.Dir()), zap.Error(err))
		}
	}()

	key := in.resolver.Daily()

	for attempt := 1; ; attempt++ {
		merged, err := in.merger.Merge(ctx, key, row, scratch)
		if err == nil {
			log.Info("combined partition",
				zap.String("key", key.Object),
				zap.String("source", merged.Source),
				zap.Int64("existing_rows", merged.ExistingRows),
				zap.Int64("rows", merged.Table.NumRows()))

			pre := merged.Precondition
			if in.config.Unconditional {
				pre = partition.Precondition{Kind: partition.Unconditional}
			}

			var etag string
			etag, err = in.uploader.Publish(ctx, merged.Table, key.Object, pre, scratch)
			rows := merged.Table.NumRows()
			merged.Release()

			if err == nil {
				log.Info("uploaded partition",
					zap.String("key", key.Object),
					zap.Int64("rows", rows),
					zap.Int("attempt", attempt))
				return &Result{Key: key.Object, Rows: rows, ETag: etag, Attempts: attempt}, nil
			}
		}

		if apperrors.GetCode(err) != apperrors.CodeWriteConflict {
			log.Error("failed to append booking", zap.String("key", key.Object), zap.Error(err))
			return nil, err
		}
		if attempt > in.config.MaxConflictRetries {
			log.Warn("write conflict retries exhausted",
				zap.String("key", key.Object),
				zap.Int("attempts", attempt))
			return nil, err
		}

		wait := conflictBackoff(in.config.ConflictBackoff, attempt)
		log.Info("write conflict, re-merging",
			zap.String("key", key.Object),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait))
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, apperrors.NewStorageError(apperrors.CodeWriteConflict, "cancelled while retrying write conflict", err)
		}
	}
}

// maxBackoffShift caps the exponential growth at 32x the base.
const maxBackoffShift = 5

// conflictBackoff returns a full-jitter wait in [0, base<<(attempt-1)) so
// writers that lost the same race do not re-merge in lockstep.
func conflictBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return rand.N(base << shift)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
