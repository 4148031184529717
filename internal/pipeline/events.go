package pipeline

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/bookinglake/bookinglake/internal/logging"
	"github.com/bookinglake/bookinglake/internal/partition"
	"github.com/bookinglake/bookinglake/internal/schema"
	"github.com/bookinglake/bookinglake/internal/storage"
	"github.com/bookinglake/bookinglake/internal/validation"
)

// EventWriter stores each event as its own immutable object. Keys are
// unique per event, so writers never contend.
type EventWriter struct {
	registry  *schema.Registry
	validator *validation.Validator
	builder   *partition.RowBuilder
	resolver  *partition.Resolver
	uploader  *partition.Uploader
	config    Config
	logger    *zap.Logger
}

// NewEventWriter wires a per-event writer for the registry against store.
func NewEventWriter(reg *schema.Registry, store storage.ObjectStorage, resolver *partition.Resolver, cfg Config, logger *zap.Logger) *EventWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := partition.NewCodec(reg, memory.DefaultAllocator)
	return &EventWriter{
		registry:  reg,
		validator: validation.New(reg),
		builder:   partition.NewRowBuilder(reg, memory.DefaultAllocator),
		resolver:  resolver,
		uploader:  partition.NewUploader(store, codec, logger),
		config:    cfg,
		logger:    logger.Named("events"),
	}
}

// Process implements Processor.
func (w *EventWriter) Process(ctx context.Context, body []byte) (*Result, error) {
	log := logging.For(ctx, w.logger)
	log.Debug("received event", zap.Int("bytes", len(body)))

	msg, err := validation.DecodeMessage(body)
	if err != nil {
		log.Info("rejected event", zap.Error(err))
		return nil, err
	}
	return w.WriteMessage(ctx, msg)
}

// WriteMessage validates msg and writes it to a fresh per-event key.
func (w *EventWriter) WriteMessage(ctx context.Context, msg validation.Message) (*Result, error) {
	log := logging.For(ctx, w.logger)

	rec, err := w.validator.Validate(msg)
	if err != nil {
		log.Info("rejected event", zap.Error(err))
		return nil, err
	}

	row, err := w.builder.Build(rec)
	if err != nil {
		return nil, err
	}
	defer row.Release()

	tbl := array.NewTableFromRecords(w.registry.Arrow(), []arrow.Record{row})
	defer tbl.Release()

	scratch, err := partition.NewScratch(w.config.ScratchDir)
	if err != nil {
		return nil, err
	}
	defer scratch.Cleanup()

	key := w.resolver.PerEvent()
	etag, err := w.uploader.Publish(ctx, tbl, key.Object, partition.Precondition{Kind: partition.IfAbsent}, scratch)
	if err != nil {
		log.Error("failed to write event", zap.String("key", key.Object), zap.Error(err))
		return nil, err
	}

	log.Info("wrote event", zap.String("key", key.Object))
	return &Result{Key: key.Object, Rows: 1, ETag: etag, Attempts: 1}, nil
}
