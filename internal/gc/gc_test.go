package gc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lanshare/lanshare_server/internal/ledger"
	"github.com/lanshare/lanshare_server/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReleaser struct {
	mu       sync.Mutex
	released []string
}

func (f *fakeReleaser) Release(uploadID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, uploadID)
}

type fixture struct {
	collector  *Collector
	ledger     *ledger.Ledger
	store      *storage.LocalChunkStore
	releaser   *fakeReleaser
	sharedRoot string
}

func newFixture(t *testing.T) *fixture {
	store, err := storage.NewLocalChunkStore(&storage.BackendConfig{LocalPath: t.TempDir()})
	require.NoError(t, err)
	l := ledger.New(ledger.NewMemoryRepository())
	releaser := &fakeReleaser{}
	sharedRoot := t.TempDir()
	return &fixture{
		collector: NewCollector(l, store, releaser, nil, Config{
			Interval:          time.Hour,
			ResumptionTimeout: time.Hour,
			Retention:         24 * time.Hour,
			SharedRoot:        sharedRoot,
		}),
		ledger:     l,
		store:      store,
		releaser:   releaser,
		sharedRoot: sharedRoot,
	}
}

// seed creates an active session last touched at lastActivity with one chunk
// whose files carry the same modification time.
func (f *fixture) seed(t *testing.T, id string, lastActivity time.Time, withChunk bool) {
	ctx := context.Background()
	f.ledger.SetTimeNowFunc(func() time.Time { return lastActivity })
	_, _, err := f.ledger.Create(ctx, &ledger.Session{ID: id, FileName: "f.bin", TotalChunks: 2, TotalSize: 6})
	require.NoError(t, err)
	if !withChunk {
		return
	}

	_, err = f.store.Put(ctx, storage.ChunkKey{UploadID: id, FileName: "f.bin", Index: 0}, strings.NewReader("abc"))
	require.NoError(t, err)
	require.NoError(t, f.ledger.Update(ctx, id, func(tx *ledger.Tx) error {
		_, _, err := tx.RecordChunk(0, 3)
		return err
	}))

	dir := f.store.SessionDir(id)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "f.bin.chunk.0"), lastActivity, lastActivity))
	require.NoError(t, os.Chtimes(dir, lastActivity, lastActivity))
}

func TestCollector_Sweep_ShouldHonorResumptionTimeoutBoundary(t *testing.T) {
	// given
	f := newFixture(t)
	now := time.Now().Truncate(time.Second)
	f.seed(t, "fresh", now.Add(-time.Hour+time.Second), true)
	f.seed(t, "stale", now.Add(-time.Hour-time.Second), true)

	// when
	report, err := f.collector.Sweep(context.Background(), now)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemovedDirs)
	assert.Equal(t, 1, report.RemovedChunks)
	assert.Equal(t, int64(3), report.ReclaimedBytes)
	assert.Equal(t, 1, report.AbandonedSessions)

	_, err = os.Stat(f.store.SessionDir("stale"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(f.store.SessionDir("fresh"))
	assert.NoError(t, err)

	stale, err := f.ledger.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusError, stale.Status)
	assert.Equal(t, AbandonedMessage, stale.ErrorMessage)

	fresh, err := f.ledger.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusActive, fresh.Status)

	assert.Equal(t, []string{"stale"}, f.releaser.released)
}

func TestCollector_Sweep_ShouldAbandonIdleSessionsWithoutData(t *testing.T) {
	// given
	f := newFixture(t)
	now := time.Now().Truncate(time.Second)
	f.seed(t, "idle", now.Add(-2*time.Hour), false)
	f.seed(t, "just-begun", now.Add(-time.Minute), false)

	// when
	report, err := f.collector.Sweep(context.Background(), now)

	// then
	require.NoError(t, err)
	assert.Equal(t, 0, report.RemovedDirs)
	assert.Equal(t, 1, report.AbandonedSessions)

	idle, err := f.ledger.Get(context.Background(), "idle")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusError, idle.Status)

	begun, err := f.ledger.Get(context.Background(), "just-begun")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusActive, begun.Status)
}

func TestCollector_Sweep_ShouldExpireOldTerminalRows(t *testing.T) {
	// given
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	for id, at := range map[string]time.Time{
		"old":    now.Add(-25 * time.Hour),
		"recent": now.Add(-23 * time.Hour),
	} {
		f.seed(t, id, at, false)
		require.NoError(t, f.ledger.Update(ctx, id, func(tx *ledger.Tx) error { return tx.MarkCompleted("f.bin") }))
	}

	// when
	report, err := f.collector.Sweep(ctx, now)

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.ExpiredRows)
	_, err = f.ledger.Get(ctx, "old")
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
	_, err = f.ledger.Get(ctx, "recent")
	assert.NoError(t, err)
}

func TestCollector_Sweep_ShouldRemoveOrphanDirectories(t *testing.T) {
	// given a temp directory the ledger never heard of
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Put(ctx, storage.ChunkKey{UploadID: "orphan", FileName: "x", Index: 3}, strings.NewReader("zz"))
	require.NoError(t, err)
	old := time.Now().Add(-3 * time.Hour)
	dir := f.store.SessionDir("orphan")
	require.NoError(t, os.Chtimes(filepath.Join(dir, "x.chunk.3"), old, old))
	require.NoError(t, os.Chtimes(dir, old, old))

	// when
	report, err := f.collector.RunNow(ctx)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemovedDirs)
	assert.Equal(t, 0, report.AbandonedSessions)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestCollector_Sweep_ShouldRemoveAbandonedMergeLeftovers(t *testing.T) {
	// given a partial file from a merge that died an hour and a second ago
	f := newFixture(t)
	now := time.Now().Truncate(time.Second)
	dir := filepath.Join(f.sharedRoot, "docs")
	require.NoError(t, os.MkdirAll(dir, 0755))
	leftover := filepath.Join(dir, ".big.iso.998877.partial")
	require.NoError(t, os.WriteFile(leftover, []byte("half"), 0644))
	old := now.Add(-time.Hour - time.Second)
	require.NoError(t, os.Chtimes(leftover, old, old))
	finished := filepath.Join(dir, "big.iso")
	require.NoError(t, os.WriteFile(finished, []byte("whole"), 0644))
	require.NoError(t, os.Chtimes(finished, old, old))

	// when
	report, err := f.collector.Sweep(context.Background(), now)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemovedPartials)
	assert.Equal(t, int64(4), report.ReclaimedBytes)
	_, err = os.Stat(leftover)
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, finished)
}
