package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	ErrChunkNotFound = errors.New("chunk not found")
	ErrInvalidKey    = errors.New("invalid chunk key")
)

// ChunkKey addresses one temporary chunk. The on-disk (or object) name is
// derived only from these three fields, so re-delivery of the same index
// lands on the same name.
type ChunkKey struct {
	UploadID string
	FileName string
	Index    int
}

func (k ChunkKey) name() string {
	return fmt.Sprintf("%s.chunk.%d", k.FileName, k.Index)
}

func (k ChunkKey) validate() error {
	if err := ValidateSegment(k.UploadID); err != nil {
		return fmt.Errorf("%w: upload id: %v", ErrInvalidKey, err)
	}
	if err := ValidateSegment(k.FileName); err != nil {
		return fmt.Errorf("%w: file name: %v", ErrInvalidKey, err)
	}
	if k.Index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidKey, k.Index)
	}
	return nil
}

// ValidateSegment accepts a single path element that cannot climb out of, or
// hide inside, the directory it is joined to.
func ValidateSegment(s string) error {
	switch {
	case s == "":
		return errors.New("empty")
	case s == "." || s == "..":
		return fmt.Errorf("reserved name %q", s)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("%q contains a path separator", s)
	case strings.ContainsRune(s, 0):
		return fmt.Errorf("%q contains a NUL byte", s)
	case len(s) > 255:
		return fmt.Errorf("longer than 255 bytes")
	}
	return nil
}

// SessionInfo describes the temporary data held for one upload.
type SessionInfo struct {
	UploadID     string
	Chunks       int
	Bytes        int64
	LastModified time.Time
}

// ChunkStore persists chunk bytes between ingestion and assembly.
type ChunkStore interface {
	// Put stores the chunk, replacing any previous bytes for the same key,
	// and returns the number of bytes written.
	Put(ctx context.Context, key ChunkKey, reader io.Reader) (int64, error)
	Open(ctx context.Context, key ChunkKey) (io.ReadCloser, error)
	Size(ctx context.Context, key ChunkKey) (int64, error)
	Delete(ctx context.Context, key ChunkKey) error
	// DeleteSession removes everything held for uploadID and reports how many
	// chunk files went with it.
	DeleteSession(ctx context.Context, uploadID string) (int, error)
	Sessions(ctx context.Context) ([]SessionInfo, error)
}

type BackendType string

const (
	BackendTypeLocal BackendType = "local"
	BackendTypeS3    BackendType = "s3"
)

type BackendConfig struct {
	Type        BackendType
	LocalPath   string
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
	S3Prefix    string
}

func NewChunkStore(config *BackendConfig) (ChunkStore, error) {
	switch config.Type {
	case BackendTypeS3:
		return NewS3ChunkStore(config)
	default:
		return NewLocalChunkStore(config)
	}
}
