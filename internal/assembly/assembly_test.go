package assembly

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lanshare/lanshare_server/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChunkSize = 1024

type fixture struct {
	store   *storage.LocalChunkStore
	engine  *Engine
	destDir string
}

func newFixture(t *testing.T) *fixture {
	store, err := storage.NewLocalChunkStore(&storage.BackendConfig{LocalPath: t.TempDir()})
	require.NoError(t, err)
	return &fixture{
		store:   store,
		engine:  NewEngine(store),
		destDir: t.TempDir(),
	}
}

func split(data []byte, chunkSize int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

func (f *fixture) putAll(t *testing.T, uploadID, fileName string, chunks [][]byte, skip ...int) {
	skipped := make(map[int]bool)
	for _, s := range skip {
		skipped[s] = true
	}
	for i, c := range chunks {
		if skipped[i] {
			continue
		}
		_, err := f.store.Put(context.Background(), storage.ChunkKey{UploadID: uploadID, FileName: fileName, Index: i}, bytes.NewReader(c))
		require.NoError(t, err)
	}
}

func listNames(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestEngine_Assemble_ShouldReproduceOriginalBytes(t *testing.T) {
	sizes := []int{0, 1, testChunkSize - 1, testChunkSize, testChunkSize + 1, 10*testChunkSize + 7}

	for _, size := range sizes {
		t.Run("", func(t *testing.T) {
			// given
			f := newFixture(t)
			original := make([]byte, size)
			_, err := rand.Read(original)
			require.NoError(t, err)
			chunks := split(original, testChunkSize)
			f.putAll(t, "up", "file.bin", chunks)
			finalPath := filepath.Join(f.destDir, "nested", "file.bin")

			// when
			written, err := f.engine.Assemble(context.Background(), Request{
				UploadID:     "up",
				FileName:     "file.bin",
				TotalChunks:  len(chunks),
				DeclaredSize: int64(size),
				FinalPath:    finalPath,
			})

			// then
			require.NoError(t, err)
			assert.Equal(t, int64(size), written)
			got, err := os.ReadFile(finalPath)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(original, got), "size %d: assembled bytes differ", size)

			_, err = os.Stat(f.store.SessionDir("up"))
			assert.True(t, os.IsNotExist(err), "temp directory must be gone after assembly")
			assert.Equal(t, []string{"file.bin"}, listNames(t, filepath.Dir(finalPath)))
		})
	}
}

func TestEngine_Assemble_ShouldNotExposeFileWhenChunkMissing(t *testing.T) {
	// given
	f := newFixture(t)
	chunks := split(bytes.Repeat([]byte("x"), 5*testChunkSize), testChunkSize)
	f.putAll(t, "gap", "movie.mp4", chunks, 2)
	finalPath := filepath.Join(f.destDir, "movie.mp4")

	// when
	_, err := f.engine.Assemble(context.Background(), Request{
		UploadID:    "gap",
		FileName:    "movie.mp4",
		TotalChunks: len(chunks),
		FinalPath:   finalPath,
	})

	// then
	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, []int{2}, incomplete.Missing)

	_, statErr := os.Stat(finalPath)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, listNames(t, f.destDir))

	sessions, err := f.store.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 4, sessions[0].Chunks, "present chunks must be preserved for a retry")
}

func TestEngine_Assemble_ShouldRejectSizeMismatchBeforeMerging(t *testing.T) {
	// given
	f := newFixture(t)
	chunks := split([]byte(strings.Repeat("y", 3000)), testChunkSize)
	f.putAll(t, "size", "a.txt", chunks)
	finalPath := filepath.Join(f.destDir, "a.txt")

	// when
	_, err := f.engine.Assemble(context.Background(), Request{
		UploadID:     "size",
		FileName:     "a.txt",
		TotalChunks:  len(chunks),
		DeclaredSize: 4000,
		FinalPath:    finalPath,
	})

	// then
	assert.ErrorIs(t, err, ErrSizeMismatch)
	_, statErr := os.Stat(finalPath)
	assert.True(t, os.IsNotExist(statErr))
	sessions, err := f.store.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, len(chunks), sessions[0].Chunks)
}

func TestEngine_Assemble_ShouldReplaceExistingFileAtomically(t *testing.T) {
	// given
	f := newFixture(t)
	finalPath := filepath.Join(f.destDir, "notes.txt")
	require.NoError(t, os.WriteFile(finalPath, []byte("old content"), 0644))
	f.putAll(t, "replace", "notes.txt", [][]byte{[]byte("new "), []byte("content")})

	// when
	written, err := f.engine.Assemble(context.Background(), Request{
		UploadID:    "replace",
		FileName:    "notes.txt",
		TotalChunks: 2,
		FinalPath:   finalPath,
	})

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(11), written)
	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(got))
}

func TestEngine_Check_ShouldListEveryMissingIndex(t *testing.T) {
	f := newFixture(t)
	f.putAll(t, "check", "f.bin", [][]byte{{1}, {2}, {3}, {4}}, 0, 3)

	_, err := f.engine.Check(context.Background(), Request{UploadID: "check", FileName: "f.bin", TotalChunks: 4})

	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []int{0, 3}, incomplete.Missing)
}

func TestEngine_Assemble_ShouldKeepChunksWhenDestinationIsDirectory(t *testing.T) {
	// given
	f := newFixture(t)
	finalPath := filepath.Join(f.destDir, "clip.bin")
	require.NoError(t, os.MkdirAll(filepath.Join(finalPath, "sub"), 0755))
	chunks := split(bytes.Repeat([]byte("z"), 3*testChunkSize), testChunkSize)
	f.putAll(t, "clash", "clip.bin", chunks)

	// when
	_, err := f.engine.Assemble(context.Background(), Request{
		UploadID:    "clash",
		FileName:    "clip.bin",
		TotalChunks: len(chunks),
		FinalPath:   finalPath,
	})

	// then
	assert.ErrorIs(t, err, ErrDestination)
	info, statErr := os.Stat(finalPath)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
	assert.Equal(t, []string{"clip.bin"}, listNames(t, f.destDir), "no partial file may be left behind")

	_, err = f.engine.Check(context.Background(), Request{UploadID: "clash", FileName: "clip.bin", TotalChunks: len(chunks)})
	assert.NoError(t, err, "every chunk must still be present")
}

func TestRemoveStalePartials_ShouldOnlyRemoveOldLeftovers(t *testing.T) {
	// given
	root := t.TempDir()
	now := time.Now().Truncate(time.Second)
	nested := filepath.Join(root, "albums", "2024")
	require.NoError(t, os.MkdirAll(nested, 0755))

	write := func(path, content string, modified time.Time) {
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		require.NoError(t, os.Chtimes(path, modified, modified))
	}
	stale := filepath.Join(nested, ".cover.png.123.partial")
	fresh := filepath.Join(root, ".movie.mp4.456.partial")
	userFile := filepath.Join(root, "report.partial")
	write(stale, "abcd", now.Add(-2*time.Hour))
	write(fresh, "ef", now.Add(-time.Minute))
	write(userFile, "keep", now.Add(-48*time.Hour))

	// when
	removed, reclaimed, err := RemoveStalePartials(root, now.Add(-time.Hour))

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, int64(4), reclaimed)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, fresh)
	assert.FileExists(t, userFile)
}
