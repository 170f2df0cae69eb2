package favorites

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
)

type Repository interface {
	Create(ctx context.Context, fav *Favorite) error
	List(ctx context.Context) ([]*Favorite, error)
	Delete(ctx context.Context, id string) error
}

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Create relies on the conditional insert to detect a duplicate path, which
// works the same on sqlite and postgres.
func (r *SQLRepository) Create(ctx context.Context, f *Favorite) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO favorites (id, path, name, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (path) DO NOTHING`,
		f.ID, f.Path, f.Name, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create favorite: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrFavoriteExists, f.Path)
	}
	return nil
}

func (r *SQLRepository) List(ctx context.Context) ([]*Favorite, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, path, name, created_at FROM favorites ORDER BY name, path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	favs := []*Favorite{}
	for rows.Next() {
		f := &Favorite{}
		if err := rows.Scan(&f.ID, &f.Path, &f.Name, &f.CreatedAt); err != nil {
			return nil, err
		}
		favs = append(favs, f)
	}
	return favs, rows.Err()
}

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM favorites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete favorite: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFavoriteNotFound
	}
	return nil
}

type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Favorite
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Favorite)}
}

func (r *MemoryRepository) Create(ctx context.Context, f *Favorite) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID {
		if existing.Path == f.Path {
			return fmt.Errorf("%w: %s", ErrFavoriteExists, f.Path)
		}
	}
	copied := *f
	r.byID[f.ID] = &copied
	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*Favorite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	favs := make([]*Favorite, 0, len(r.byID))
	for _, f := range r.byID {
		copied := *f
		favs = append(favs, &copied)
	}
	sort.Slice(favs, func(i, j int) bool {
		if favs[i].Name != favs[j].Name {
			return favs[i].Name < favs[j].Name
		}
		return favs[i].Path < favs[j].Path
	})
	return favs, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return ErrFavoriteNotFound
	}
	delete(r.byID, id)
	return nil
}
