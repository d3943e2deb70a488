package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/msgvault/msgvault/internal/domain"
)

// FileStore implements the remote transfer primitive against a local
// directory, one file per chunk. It stands in for the real messaging
// API during development and in tests; the wire protocol itself is
// outside this repo.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Send(ctx context.Context, token string, p domain.ChunkPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Join(s.dir, p.TaskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create file directory: %w", err)
	}

	f, err := os.Create(s.chunkPath(p.TaskID, p.Index))
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, p.Body); err != nil {
		// Remove the partial chunk so ChunkCount never sees it.
		os.Remove(f.Name())
		return fmt.Errorf("failed to store chunk %d: %w", p.Index, err)
	}
	return nil
}

func (s *FileStore) Fetch(ctx context.Context, token string, fileID string, index int) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	f, err := os.Open(s.chunkPath(fileID, index))
	if err != nil {
		return nil, 0, fmt.Errorf("chunk %d of %s not found: %w", index, fileID, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (s *FileStore) ChunkCount(ctx context.Context, token string, fileID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return len(entries), nil
}

func (s *FileStore) chunkPath(fileID string, index int) string {
	return filepath.Join(s.dir, fileID, fmt.Sprintf("%06d.chunk", index))
}
