package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// BlobSink stores captured screenshots and returns a reference string
// that is persisted on the job.
type BlobSink interface {
	Save(jobID uuid.UUID, name string, data []byte) (string, error)
}

// FileSink writes blobs under a directory, one subdirectory per job.
type FileSink struct {
	Dir string
}

func NewFileSink(dir string) *FileSink { return &FileSink{Dir: dir} }

func (s *FileSink) Save(jobID uuid.UUID, name string, data []byte) (string, error) {
	dir := filepath.Join(s.Dir, jobID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return path, nil
}

// MemorySink keeps blobs in a map. Tests use it to assert on captures.
type MemorySink struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemorySink() *MemorySink {
	return &MemorySink{blobs: make(map[string][]byte)}
}

func (s *MemorySink) Save(jobID uuid.UUID, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobID.String() + "/" + name
	s.blobs[key] = append([]byte(nil), data...)
	return key, nil
}

func (s *MemorySink) Get(ref string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[ref]
	return b, ok
}
