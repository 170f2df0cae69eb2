package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const tempSuffix = ".tmp"

type LocalChunkStore struct {
	basePath string
}

func NewLocalChunkStore(config *BackendConfig) (*LocalChunkStore, error) {
	basePath := config.LocalPath
	if basePath == "" {
		basePath = "./files/tmp"
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}

	return &LocalChunkStore{basePath: basePath}, nil
}

func (s *LocalChunkStore) sessionDir(uploadID string) string {
	return filepath.Join(s.basePath, uploadID)
}

func (s *LocalChunkStore) chunkPath(key ChunkKey) string {
	return filepath.Join(s.sessionDir(key.UploadID), key.name())
}

// SessionDir exposes the directory holding an upload's chunks.
func (s *LocalChunkStore) SessionDir(uploadID string) string {
	return s.sessionDir(uploadID)
}

// Put writes into a sibling temp file and renames it over the chunk name, so
// a reader or a concurrent re-delivery never sees a torn chunk.
func (s *LocalChunkStore) Put(ctx context.Context, key ChunkKey, reader io.Reader) (int64, error) {
	if err := key.validate(); err != nil {
		return 0, err
	}
	dir := s.sessionDir(key.UploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, "."+key.name()+".*"+tempSuffix)
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, reader)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, s.chunkPath(key)); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	return n, nil
}

func (s *LocalChunkStore) Open(ctx context.Context, key ChunkKey) (io.ReadCloser, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	file, err := os.Open(s.chunkPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s index %d", ErrChunkNotFound, key.UploadID, key.Index)
		}
		return nil, err
	}
	return file, nil
}

func (s *LocalChunkStore) Size(ctx context.Context, key ChunkKey) (int64, error) {
	if err := key.validate(); err != nil {
		return 0, err
	}
	info, err := os.Stat(s.chunkPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s index %d", ErrChunkNotFound, key.UploadID, key.Index)
		}
		return 0, err
	}
	return info.Size(), nil
}

func (s *LocalChunkStore) Delete(ctx context.Context, key ChunkKey) error {
	if err := key.validate(); err != nil {
		return err
	}
	if err := os.Remove(s.chunkPath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalChunkStore) DeleteSession(ctx context.Context, uploadID string) (int, error) {
	if err := ValidateSegment(uploadID); err != nil {
		return 0, fmt.Errorf("%w: upload id: %v", ErrInvalidKey, err)
	}
	dir := s.sessionDir(uploadID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		if !strings.HasSuffix(entry.Name(), tempSuffix) {
			removed++
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return removed, err
	}
	return removed, nil
}

// Sessions reports one entry per upload directory. LastModified is the newest
// mtime among the directory and its files.
func (s *LocalChunkStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	var sessions []SessionInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := s.sessionInfo(entry.Name())
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, info)
	}
	return sessions, nil
}

func (s *LocalChunkStore) sessionInfo(uploadID string) (SessionInfo, error) {
	dir := s.sessionDir(uploadID)
	dirInfo, err := os.Stat(dir)
	if err != nil {
		return SessionInfo{}, err
	}

	info := SessionInfo{UploadID: uploadID, LastModified: dirInfo.ModTime()}
	files, err := os.ReadDir(dir)
	if err != nil {
		return SessionInfo{}, err
	}
	for _, f := range files {
		fi, err := f.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().After(info.LastModified) {
			info.LastModified = fi.ModTime()
		}
		if fi.IsDir() || strings.HasSuffix(f.Name(), tempSuffix) {
			continue
		}
		info.Chunks++
		info.Bytes += fi.Size()
	}
	return info, nil
}
