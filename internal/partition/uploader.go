package partition

import (
	"context"
	"errors"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/storage"
)

// PreconditionKind selects how a publish guards against concurrent writers.
type PreconditionKind int

const (
	// Unconditional overwrites whatever is stored. Last writer wins.
	Unconditional PreconditionKind = iota
	// IfMatch writes only if the object still has the ETag that was read.
	IfMatch
	// IfAbsent writes only if the key does not exist yet.
	IfAbsent
)

func (k PreconditionKind) String() string {
	switch k {
	case IfMatch:
		return "if-match"
	case IfAbsent:
		return "if-absent"
	default:
		return "unconditional"
	}
}

// Precondition is the guard attached to a publish.
type Precondition struct {
	Kind PreconditionKind
	ETag string
}

// Uploader encodes a table to scratch and puts it to the object store.
type Uploader struct {
	store  storage.ObjectStorage
	codec  *Codec
	logger *zap.Logger
}

// NewUploader creates an uploader.
func NewUploader(store storage.ObjectStorage, codec *Codec, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{store: store, codec: codec, logger: logger.Named("uploader")}
}

// Publish writes tbl to key honoring pre and returns the new ETag. A lost
// precondition is STORAGE/WRITE_CONFLICT. The scratch file is removed on
// every path.
func (u *Uploader) Publish(ctx context.Context, tbl arrow.Table, key string, pre Precondition, scratch *Scratch) (string, error) {
	return u.PublishWithMetadata(ctx, tbl, key, pre, scratch, nil)
}

// PublishWithMetadata is Publish with file-level key-value metadata.
func (u *Uploader) PublishWithMetadata(ctx context.Context, tbl arrow.Table, key string, pre Precondition, scratch *Scratch, kv map[string]string) (string, error) {
	local := scratch.File(".parquet")
	defer os.Remove(local)

	if err := u.codec.WriteFileWithMetadata(local, tbl, kv); err != nil {
		return "", err
	}

	var (
		etag string
		err  error
	)
	switch pre.Kind {
	case IfMatch:
		etag, err = u.store.ConditionalPut(ctx, local, key, pre.ETag)
	case IfAbsent:
		etag, err = u.store.PutIfAbsent(ctx, local, key)
	default:
		etag, err = u.store.Upload(ctx, local, key)
	}
	if err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			u.logger.Debug("publish lost precondition",
				zap.String("key", key),
				zap.Stringer("precondition", pre.Kind))
			return "", apperrors.NewStorageError(apperrors.CodeWriteConflict,
				"partition changed while merging", err).
				WithDetails(map[string]interface{}{"key": key})
		}
		return "", apperrors.NewStorageError(apperrors.CodeUploadFailed, "failed to upload partition", err).
			WithDetails(map[string]interface{}{"key": key})
	}

	u.logger.Debug("published partition",
		zap.String("key", key),
		zap.Int64("rows", tbl.NumRows()),
		zap.Stringer("precondition", pre.Kind))
	return etag, nil
}
