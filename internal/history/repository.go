package history

import (
	"context"
	"database/sql"
	"sort"
	"sync"
)

type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	ListRecent(ctx context.Context, limit int) ([]*Entry, error)
}

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, e *Entry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO history (id, action, filename, size, source_address, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, string(e.Action), e.Filename, e.Size, e.SourceAddress, e.CreatedAt,
	)
	return err
}

func (r *SQLRepository) ListRecent(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, action, filename, size, source_address, created_at
		 FROM history ORDER BY created_at DESC, id LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e := &Entry{}
		var action string
		if err := rows.Scan(&e.ID, &action, &e.Filename, &e.Size, &e.SourceAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *e
	r.entries = append(r.entries, &copied)
	return nil
}

func (r *MemoryRepository) ListRecent(ctx context.Context, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := make([]*Entry, len(r.entries))
	copy(sorted, r.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt > sorted[j].CreatedAt
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	entries := make([]*Entry, 0, len(sorted))
	for _, e := range sorted {
		copied := *e
		entries = append(entries, &copied)
	}
	return entries, nil
}
