// Package storage provides the object store the partition files live in.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUploadFailed       = errors.New("upload failed")
	ErrDownloadFailed     = errors.New("download failed")
	ErrDeleteFailed       = errors.New("delete failed")
	ErrListFailed         = errors.New("list failed")
)

// ObjectStorage abstracts object storage operations.
// Implementations are S3 and the local filesystem.
type ObjectStorage interface {
	// Upload writes a local file to objectPath unconditionally and returns
	// the new ETag. Concurrent writers to the same key overwrite each other.
	Upload(ctx context.Context, localPath, objectPath string) (string, error)

	// Download copies objectPath to localPath and returns the ETag of the
	// version that was read. Returns ErrObjectNotFound if it does not exist.
	Download(ctx context.Context, objectPath, localPath string) (string, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ConditionalPut uploads only if the current object still has the
	// given ETag (If-Match). Returns ErrPreconditionFailed otherwise.
	ConditionalPut(ctx context.Context, localPath, objectPath, etag string) (string, error)

	// PutIfAbsent uploads only if no object exists at objectPath
	// (If-None-Match: *). Returns ErrPreconditionFailed otherwise.
	PutIfAbsent(ctx context.Context, localPath, objectPath string) (string, error)

	// ListObjects returns all object keys starting with prefix, sorted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
