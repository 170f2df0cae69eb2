package assembly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lanshare/lanshare_server/internal/storage"
	"github.com/rs/zerolog/log"
)

const partialSuffix = ".partial"

var (
	ErrIncomplete   = errors.New("upload is missing chunks")
	ErrSizeMismatch = errors.New("chunk sizes do not add up to the declared size")
	ErrDestination  = errors.New("destination cannot be replaced by a file")
)

// IncompleteError lists the chunk indices absent from the store.
type IncompleteError struct {
	Missing []int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: %v", ErrIncomplete, e.Missing)
}

func (e *IncompleteError) Unwrap() error {
	return ErrIncomplete
}

type Request struct {
	UploadID     string
	FileName     string
	TotalChunks  int
	DeclaredSize int64 // 0 when the client did not declare one
	FinalPath    string
}

func (r Request) key(index int) storage.ChunkKey {
	return storage.ChunkKey{UploadID: r.UploadID, FileName: r.FileName, Index: index}
}

type Engine struct {
	store storage.ChunkStore
}

func NewEngine(store storage.ChunkStore) *Engine {
	return &Engine{store: store}
}

// Check verifies every chunk is present (and, when declared, that the sizes
// add up) without touching anything. It returns the total byte count.
func (e *Engine) Check(ctx context.Context, req Request) (int64, error) {
	var (
		total   int64
		missing []int
	)
	for i := 0; i < req.TotalChunks; i++ {
		size, err := e.store.Size(ctx, req.key(i))
		if errors.Is(err, storage.ErrChunkNotFound) {
			missing = append(missing, i)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to stat chunk %d: %w", i, err)
		}
		total += size
	}

	if len(missing) > 0 {
		return 0, &IncompleteError{Missing: missing}
	}
	if req.DeclaredSize > 0 && total != req.DeclaredSize {
		return 0, fmt.Errorf("%w: declared %d, chunks hold %d", ErrSizeMismatch, req.DeclaredSize, total)
	}
	return total, nil
}

// Assemble concatenates chunks 0..TotalChunks-1 into FinalPath. The bytes are
// merged into a hidden partial file next to FinalPath and renamed over it
// only once complete, so FinalPath never holds a truncated result. Each chunk
// is deleted as soon as it has been copied, so everything that can stop the
// final rename is checked before the first chunk is consumed.
func (e *Engine) Assemble(ctx context.Context, req Request) (int64, error) {
	if req.TotalChunks <= 0 {
		return 0, fmt.Errorf("%w: total chunks %d", ErrIncomplete, req.TotalChunks)
	}
	if _, err := e.Check(ctx, req); err != nil {
		return 0, err
	}

	dir := filepath.Dir(req.FinalPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	if err := checkDestination(req.FinalPath); err != nil {
		return 0, err
	}

	partial, err := os.CreateTemp(dir, "."+filepath.Base(req.FinalPath)+".*"+partialSuffix)
	if err != nil {
		return 0, fmt.Errorf("failed to create partial file: %w", err)
	}
	partialPath := partial.Name()
	discard := func() {
		partial.Close()
		os.Remove(partialPath)
	}

	var written int64
	for i := 0; i < req.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			discard()
			return 0, err
		}
		n, err := e.appendChunk(ctx, partial, req.key(i))
		if err != nil {
			discard()
			return 0, err
		}
		written += n

		if err := e.store.Delete(ctx, req.key(i)); err != nil {
			log.Warn().Err(err).Str("uploadId", req.UploadID).Int("chunkIndex", i).Msg("[ASSEMBLY] Failed to delete merged chunk")
		}
	}

	if err := partial.Sync(); err != nil {
		discard()
		return 0, fmt.Errorf("failed to sync partial file: %w", err)
	}
	if err := partial.Close(); err != nil {
		os.Remove(partialPath)
		return 0, fmt.Errorf("failed to close partial file: %w", err)
	}
	if err := os.Chmod(partialPath, 0644); err != nil {
		os.Remove(partialPath)
		return 0, err
	}
	if err := os.Rename(partialPath, req.FinalPath); err != nil {
		os.Remove(partialPath)
		return 0, fmt.Errorf("failed to move assembled file into place: %w", err)
	}

	if _, err := e.store.DeleteSession(ctx, req.UploadID); err != nil {
		log.Warn().Err(err).Str("uploadId", req.UploadID).Msg("[ASSEMBLY] Failed to remove session temp directory")
	}

	log.Debug().
		Str("uploadId", req.UploadID).
		Str("path", req.FinalPath).
		Int64("bytes", written).
		Int("chunks", req.TotalChunks).
		Msg("[ASSEMBLY] File assembled")

	return written, nil
}

// checkDestination fails unless path is absent or a regular file that the
// rename may replace.
func checkDestination(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect destination: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is %s", ErrDestination, path, info.Mode().Type())
	}
	return nil
}

func (e *Engine) appendChunk(ctx context.Context, dst io.Writer, key storage.ChunkKey) (int64, error) {
	reader, err := e.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrChunkNotFound) {
			return 0, &IncompleteError{Missing: []int{key.Index}}
		}
		return 0, fmt.Errorf("failed to open chunk %d: %w", key.Index, err)
	}
	defer reader.Close()

	n, err := io.Copy(dst, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to append chunk %d: %w", key.Index, err)
	}
	return n, nil
}

func isPartial(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, partialSuffix)
}

// RemoveStalePartials deletes merge leftovers under root last written before
// cutoff. A merge that is still running keeps its partial file fresh, so it
// is never picked up. It returns the number of files and bytes removed.
func RemoveStalePartials(root string, cutoff time.Time) (int, int64, error) {
	var (
		removed int
		bytes   int64
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Warn().Err(err).Str("path", path).Msg("[ASSEMBLY] Skipping unreadable path")
			return nil
		}
		if !d.Type().IsRegular() || !isPartial(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("[ASSEMBLY] Failed to remove stale partial file")
			return nil
		}
		removed++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return removed, bytes, fmt.Errorf("failed to scan for partial files: %w", err)
	}
	return removed, bytes, nil
}
