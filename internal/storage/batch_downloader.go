package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader fetches many objects into one local directory in
// parallel. Compaction uses it to pull a day's per-event objects.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
}

// Downloaded is one fetched object.
type Downloaded struct {
	LocalPath string
	ETag      string
}

// BatchResult contains the outcome of a batch download operation.
type BatchResult struct {
	Files  map[string]Downloaded
	Errors map[string]error
}

// NewBatchDownloader creates a new batch downloader.
// concurrency: maximum number of parallel downloads (minimum 1)
func NewBatchDownloader(storage ObjectStorage, concurrency int) *BatchDownloader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
	}
}

// Download fetches objectPaths into dir. Per-object failures are reported in
// Errors; the returned error is only set when dir cannot be prepared.
func (b *BatchDownloader) Download(ctx context.Context, objectPaths []string, dir string) (*BatchResult, error) {
	result := &BatchResult{
		Files:  make(map[string]Downloaded, len(objectPaths)),
		Errors: make(map[string]error),
	}
	if len(objectPaths) == 0 {
		return result, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, p := range objectPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[p] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		// The index keeps local names unique even if two keys share a base name.
		local := filepath.Join(dir, fmt.Sprintf("%05d_%s", i, path.Base(p)))

		wg.Add(1)
		go func(objectPath, localPath string) {
			defer sem.Release(1)
			defer wg.Done()

			etag, err := b.storage.Download(ctx, objectPath, localPath)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[objectPath] = err
				return
			}
			result.Files[objectPath] = Downloaded{LocalPath: localPath, ETag: etag}
		}(p, local)
	}

	wg.Wait()
	return result, nil
}
