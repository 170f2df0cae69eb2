package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lanshare/lanshare_server/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repositories(t *testing.T) map[string]Repository {
	db, err := database.Open("sqlite3", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"sqlite": NewSQLRepository(db),
	}
}

func newTestSession(id string, totalChunks int) *Session {
	return &Session{
		ID:          id,
		FileName:    "video.mp4",
		DestDir:     "movies",
		TotalSize:   int64(totalChunks) * 10,
		TotalChunks: totalChunks,
	}
}

func TestLedger_Create_ShouldReturnExistingSessionOnResume(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			l := New(repo)
			ctx := context.Background()
			first, created, err := l.Create(ctx, newTestSession("abc", 5))
			require.NoError(t, err)
			require.True(t, created)
			err = l.Update(ctx, "abc", func(tx *Tx) error {
				_, _, err := tx.RecordChunk(0, 10)
				return err
			})
			require.NoError(t, err)

			// when
			resumed, created, err := l.Create(ctx, newTestSession("abc", 5))

			// then
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, resumed.ID)
			assert.Equal(t, 1, resumed.UploadedChunks)
			assert.Equal(t, int64(10), resumed.UploadedSize)
			assert.Equal(t, StatusActive, resumed.Status)
		})
	}
}

func TestLedger_RecordChunk_ShouldCountEachIndexOnce(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			l := New(repo)
			ctx := context.Background()
			_, _, err := l.Create(ctx, newTestSession("dup", 3))
			require.NoError(t, err)

			// when
			var sights []bool
			for _, index := range []int{1, 1, 0, 1} {
				err := l.Update(ctx, "dup", func(tx *Tx) error {
					_, first, err := tx.RecordChunk(index, 10)
					sights = append(sights, first)
					return err
				})
				require.NoError(t, err)
			}

			// then
			assert.Equal(t, []bool{true, false, true, false}, sights)
			s, err := l.Get(ctx, "dup")
			require.NoError(t, err)
			assert.Equal(t, 2, s.UploadedChunks)
			assert.Equal(t, int64(20), s.UploadedSize)

			missing, err := l.MissingChunks(ctx, s)
			require.NoError(t, err)
			assert.Equal(t, []int{2}, missing)
		})
	}
}

func TestLedger_RecordChunk_ShouldSerializeConcurrentArrivals(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			l := New(repo)
			ctx := context.Background()
			const totalChunks = 20
			_, _, err := l.Create(ctx, newTestSession("race", totalChunks))
			require.NoError(t, err)

			// when every index arrives three times from different goroutines
			var wg sync.WaitGroup
			for round := 0; round < 3; round++ {
				for index := 0; index < totalChunks; index++ {
					wg.Add(1)
					go func(index int) {
						defer wg.Done()
						err := l.Update(ctx, "race", func(tx *Tx) error {
							_, _, err := tx.RecordChunk(index, 10)
							return err
						})
						assert.NoError(t, err)
					}(index)
				}
			}
			wg.Wait()

			// then
			s, err := l.Get(ctx, "race")
			require.NoError(t, err)
			assert.Equal(t, totalChunks, s.UploadedChunks)
			assert.Equal(t, int64(totalChunks*10), s.UploadedSize)
			assert.True(t, s.AllChunksSeen())
			assert.Equal(t, 0, l.locks.size())
		})
	}
}

func TestLedger_Update_ShouldReportUnknownSession(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			l := New(repo)

			err := l.Update(context.Background(), "missing", func(tx *Tx) error {
				_, _, err := tx.RecordChunk(0, 1)
				return err
			})

			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestLedger_DeleteTerminalBefore_ShouldKeepActiveAndRecentSessions(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			l := New(repo)
			ctx := context.Background()
			base := time.Unix(1_700_000_000, 0)
			l.SetTimeNowFunc(func() time.Time { return base })

			for _, id := range []string{"old-done", "old-failed", "old-active"} {
				_, _, err := l.Create(ctx, newTestSession(id, 1))
				require.NoError(t, err)
			}
			require.NoError(t, l.Update(ctx, "old-done", func(tx *Tx) error { return tx.MarkCompleted("movies/video.mp4") }))
			require.NoError(t, l.Update(ctx, "old-failed", func(tx *Tx) error { return tx.MarkFailed("boom") }))

			l.SetTimeNowFunc(func() time.Time { return base.Add(2 * time.Hour) })
			_, _, err := l.Create(ctx, newTestSession("new-done", 1))
			require.NoError(t, err)
			require.NoError(t, l.Update(ctx, "new-done", func(tx *Tx) error { return tx.MarkCompleted("x") }))

			// when
			deleted, err := l.DeleteTerminalBefore(ctx, base.Add(time.Hour))

			// then
			require.NoError(t, err)
			assert.Equal(t, int64(2), deleted)
			_, err = l.Get(ctx, "old-done")
			assert.ErrorIs(t, err, ErrSessionNotFound)
			_, err = l.Get(ctx, "old-active")
			assert.NoError(t, err)
			_, err = l.Get(ctx, "new-done")
			assert.NoError(t, err)

			stale, err := l.ListActiveBefore(ctx, base.Add(time.Hour))
			require.NoError(t, err)
			require.Len(t, stale, 1)
			assert.Equal(t, "old-active", stale[0].ID)
		})
	}
}

func TestLedger_Reopen_ShouldForgetLostChunks(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given a failed session that had received chunks 0, 1 and 3
			l := New(repo)
			ctx := context.Background()
			_, _, err := l.Create(ctx, newTestSession("retry", 4))
			require.NoError(t, err)
			require.NoError(t, l.Update(ctx, "retry", func(tx *Tx) error {
				for _, index := range []int{0, 1, 3} {
					if _, _, err := tx.RecordChunk(index, 10); err != nil {
						return err
					}
				}
				return tx.MarkFailed("abandoned")
			}))

			// when chunk 1 turned out to be gone
			err = l.Update(ctx, "retry", func(tx *Tx) error { return tx.Reopen([]int{1, 2}) })

			// then
			require.NoError(t, err)
			s, err := l.Get(ctx, "retry")
			require.NoError(t, err)
			assert.Equal(t, StatusActive, s.Status)
			assert.Empty(t, s.ErrorMessage)
			assert.Equal(t, 2, s.UploadedChunks)
			assert.Equal(t, int64(20), s.UploadedSize)
			missing, err := l.MissingChunks(ctx, s)
			require.NoError(t, err)
			assert.Equal(t, []int{1, 2}, missing)
		})
	}
}

func TestSession_Progress(t *testing.T) {
	s := &Session{TotalChunks: 4, UploadedChunks: 1, Status: StatusActive}
	assert.Equal(t, 25.0, s.Progress())

	s.Status = StatusCompleted
	assert.Equal(t, 100.0, s.Progress())
}
