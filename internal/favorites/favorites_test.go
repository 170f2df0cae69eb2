package favorites

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lanshare/lanshare_server/internal/database"
	"github.com/lanshare/lanshare_server/internal/sharedfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, repo Repository) (*Service, string) {
	dir := t.TempDir()
	root, err := sharedfs.NewRoot(dir)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "movies"), 0755))
	return NewService(repo, root), dir
}

func repositories(t *testing.T) map[string]Repository {
	db, err := database.Open("sqlite3", filepath.Join(t.TempDir(), "favorites.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"sqlite": NewSQLRepository(db),
	}
}

func TestService_Add_ShouldStoreCleanedPathAndDefaultName(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			// given
			service, _ := newTestService(t, repo)
			ctx := context.Background()

			// when
			fav, err := service.Add(ctx, "/movies/", "")

			// then
			require.NoError(t, err)
			assert.Equal(t, "movies", fav.Path)
			assert.Equal(t, "movies", fav.Name)

			favs, err := service.List(ctx)
			require.NoError(t, err)
			require.Len(t, favs, 1)
			assert.Equal(t, fav.ID, favs[0].ID)
		})
	}
}

func TestService_Add_ShouldRejectDuplicatesAndMissingPaths(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			service, _ := newTestService(t, repo)
			ctx := context.Background()
			_, err := service.Add(ctx, "movies", "Films")
			require.NoError(t, err)

			_, err = service.Add(ctx, "movies", "Again")
			assert.ErrorIs(t, err, ErrFavoriteExists)

			_, err = service.Add(ctx, "nope", "")
			assert.ErrorIs(t, err, ErrPathNotFound)

			_, err = service.Add(ctx, "../etc", "")
			assert.ErrorIs(t, err, sharedfs.ErrOutsideRoot)
		})
	}
}

func TestService_Remove(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			service, _ := newTestService(t, repo)
			ctx := context.Background()
			fav, err := service.Add(ctx, "movies", "")
			require.NoError(t, err)

			require.NoError(t, service.Remove(ctx, fav.ID))
			assert.ErrorIs(t, service.Remove(ctx, fav.ID), ErrFavoriteNotFound)

			favs, err := service.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, favs)
		})
	}
}
