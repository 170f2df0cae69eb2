package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lanshare/lanshare_server/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repositories(t *testing.T) map[string]Repository {
	db, err := database.Open("sqlite3", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"sqlite": NewSQLRepository(db),
	}
}

func TestService_List_ShouldReturnNewestFirstWithinLimit(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			service := NewService(repo)
			ctx := context.Background()
			base := time.Unix(1_700_000_000, 0)
			for i, file := range []string{"a.txt", "b.txt", "c.txt"} {
				at := base.Add(time.Duration(i) * time.Minute)
				service.now = func() time.Time { return at }
				require.NoError(t, service.Record(ctx, ActionUpload, file, int64(i+1), "10.0.0.2:5000"))
			}

			// when
			entries, err := service.List(ctx, 2)

			// then
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "c.txt", entries[0].Filename)
			assert.Equal(t, "b.txt", entries[1].Filename)
			assert.Equal(t, ActionUpload, entries[0].Action)
			assert.Equal(t, int64(3), entries[0].Size)
			assert.Equal(t, "10.0.0.2:5000", entries[0].SourceAddress)
			assert.NotEmpty(t, entries[0].ID)
		})
	}
}

func TestService_List_ShouldApplyDefaultLimit(t *testing.T) {
	service := NewService(NewMemoryRepository())
	ctx := context.Background()
	for i := 0; i < DefaultListLimit+5; i++ {
		require.NoError(t, service.Record(ctx, ActionUpload, "f", 1, ""))
	}

	entries, err := service.List(ctx, 0)

	require.NoError(t, err)
	assert.Len(t, entries, DefaultListLimit)
}
