package partition

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
)

// Scratch is a private working directory for one invocation. Concurrent
// invocations never share file names.
type Scratch struct {
	dir string
}

// NewScratch creates a fresh directory under base (the system temp dir when
// base is empty).
func NewScratch(base string) (*Scratch, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0755); err != nil {
			return nil, apperrors.NewScratchError("failed to create scratch root", err)
		}
	}
	dir, err := os.MkdirTemp(base, "bookinglake-")
	if err != nil {
		return nil, apperrors.NewScratchError("failed to create scratch dir", err)
	}
	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch directory.
func (s *Scratch) Dir() string {
	return s.dir
}

// File returns a unique path inside the scratch directory.
func (s *Scratch) File(suffix string) string {
	return filepath.Join(s.dir, uuid.New().String()+suffix)
}

// Cleanup removes the directory and everything in it.
func (s *Scratch) Cleanup() error {
	return os.RemoveAll(s.dir)
}
