package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const sessionColumns = `id, file_name, dest_dir, rel_path, total_size, total_chunks, uploaded_size, uploaded_chunks, status, error_message, final_path, created_at, updated_at`

func (r *SQLRepository) Create(ctx context.Context, s *Session) error {
	query := `INSERT INTO upload_sessions (` + sessionColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			  ON CONFLICT (id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.FileName,
		s.DestDir,
		s.RelPath,
		s.TotalSize,
		s.TotalChunks,
		s.UploadedSize,
		s.UploadedChunks,
		string(s.Status),
		s.ErrorMessage,
		s.FinalPath,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrSessionExists
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	s := &Session{}
	var status string
	err := row.Scan(
		&s.ID,
		&s.FileName,
		&s.DestDir,
		&s.RelPath,
		&s.TotalSize,
		&s.TotalChunks,
		&s.UploadedSize,
		&s.UploadedChunks,
		&status,
		&s.ErrorMessage,
		&s.FinalPath,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	return s, nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE id = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SQLRepository) RecordChunk(ctx context.Context, id string, index int, size int64, now int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO upload_chunks (upload_id, chunk_index, chunk_size, received_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (upload_id, chunk_index) DO NOTHING`,
		id, index, size, now)
	if err != nil {
		return false, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	firstSight := inserted == 1
	if firstSight {
		result, err = tx.ExecContext(ctx,
			`UPDATE upload_sessions
			 SET uploaded_chunks = uploaded_chunks + 1, uploaded_size = uploaded_size + $1, updated_at = $2
			 WHERE id = $3`,
			size, now, id)
	} else {
		result, err = tx.ExecContext(ctx, `UPDATE upload_sessions SET updated_at = $1 WHERE id = $2`, now, id)
	}
	if err != nil {
		return false, err
	}
	if err := checkRowsAffected(result); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit chunk record: %w", err)
	}
	return firstSight, nil
}

func (r *SQLRepository) ChunkIndices(ctx context.Context, id string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT chunk_index FROM upload_chunks WHERE upload_id = $1 ORDER BY chunk_index`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indices []int
	for rows.Next() {
		var index int
		if err := rows.Scan(&index); err != nil {
			return nil, err
		}
		indices = append(indices, index)
	}
	return indices, rows.Err()
}

func (r *SQLRepository) ForgetChunks(ctx context.Context, id string, indices []int, now int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, index := range indices {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM upload_chunks WHERE upload_id = $1 AND chunk_index = $2`, id, index); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE upload_sessions
		 SET uploaded_chunks = (SELECT COUNT(*) FROM upload_chunks WHERE upload_id = $1),
		     uploaded_size = (SELECT COALESCE(SUM(chunk_size), 0) FROM upload_chunks WHERE upload_id = $2),
		     updated_at = $3
		 WHERE id = $4`,
		id, id, now, id)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit forgotten chunks: %w", err)
	}
	return nil
}

func (r *SQLRepository) UpdateStatus(ctx context.Context, id string, status Status, errorMessage, finalPath string, now int64) error {
	return r.execWithRowCheck(ctx,
		`UPDATE upload_sessions SET status = $1, error_message = $2, final_path = $3, updated_at = $4 WHERE id = $5`,
		string(status), errorMessage, finalPath, now, id)
}

func (r *SQLRepository) Touch(ctx context.Context, id string, now int64) error {
	return r.execWithRowCheck(ctx, `UPDATE upload_sessions SET updated_at = $1 WHERE id = $2`, now, id)
}

func (r *SQLRepository) ListActiveBefore(ctx context.Context, before int64) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions
			  WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`

	rows, err := r.db.QueryContext(ctx, query, string(StatusActive), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SQLRepository) DeleteTerminalBefore(ctx context.Context, before int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM upload_chunks WHERE upload_id IN (
			SELECT id FROM upload_sessions WHERE status IN ($1, $2) AND updated_at < $3)`,
		string(StatusCompleted), string(StatusError), before)
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM upload_sessions WHERE status IN ($1, $2) AND updated_at < $3`,
		string(StatusCompleted), string(StatusError), before)
	if err != nil {
		return 0, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit retention delete: %w", err)
	}
	return deleted, nil
}

func (r *SQLRepository) execWithRowCheck(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

func checkRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}
