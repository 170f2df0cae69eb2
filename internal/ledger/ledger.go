package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Ledger is the single owner of upload session state. Reads go straight to
// the repository; every mutation runs inside Update, which holds the
// session's lock for the duration of the callback.
type Ledger struct {
	repo  Repository
	locks *keyedMutex
	now   func() time.Time
}

func New(repo Repository) *Ledger {
	return &Ledger{
		repo:  repo,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// SetTimeNowFunc replaces the clock, for tests.
func (l *Ledger) SetTimeNowFunc(now func() time.Time) {
	l.now = now
}

// Create registers a new session or returns the existing one with the same
// id. The boolean is true when the row was created by this call.
func (l *Ledger) Create(ctx context.Context, s *Session) (*Session, bool, error) {
	unlock := l.locks.lock(s.ID)
	defer unlock()

	now := l.now().Unix()
	s.Status = StatusActive
	s.UploadedChunks = 0
	s.UploadedSize = 0
	s.CreatedAt = now
	s.UpdatedAt = now

	err := l.repo.Create(ctx, s)
	if err != nil && !errors.Is(err, ErrSessionExists) {
		return nil, false, fmt.Errorf("failed to create upload session: %w", err)
	}

	stored, getErr := l.repo.GetByID(ctx, s.ID)
	if getErr != nil {
		return nil, false, getErr
	}
	return stored, err == nil, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*Session, error) {
	return l.repo.GetByID(ctx, id)
}

// MissingChunks lists indices in [0, TotalChunks) never recorded.
func (l *Ledger) MissingChunks(ctx context.Context, s *Session) ([]int, error) {
	indices, err := l.repo.ChunkIndices(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	return missingFrom(indices, s.TotalChunks), nil
}

func missingFrom(present []int, total int) []int {
	seen := make(map[int]bool, len(present))
	for _, i := range present {
		seen[i] = true
	}
	var missing []int
	for i := 0; i < total; i++ {
		if !seen[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// Update runs fn with the session's lock held. fn must not call Update for
// the same id.
func (l *Ledger) Update(ctx context.Context, id string, fn func(tx *Tx) error) error {
	unlock := l.locks.lock(id)
	defer unlock()

	return fn(&Tx{ctx: ctx, ledger: l, id: id})
}

// ListActiveBefore returns active sessions with no activity since before.
func (l *Ledger) ListActiveBefore(ctx context.Context, before time.Time) ([]*Session, error) {
	return l.repo.ListActiveBefore(ctx, before.Unix())
}

// DeleteTerminalBefore drops completed and failed sessions last updated
// before the cutoff.
func (l *Ledger) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	return l.repo.DeleteTerminalBefore(ctx, before.Unix())
}

// Tx is the mutation handle for one session, valid only inside Update.
type Tx struct {
	ctx    context.Context
	ledger *Ledger
	id     string
}

func (tx *Tx) Session() (*Session, error) {
	return tx.ledger.repo.GetByID(tx.ctx, tx.id)
}

// RecordChunk counts index toward progress the first time it is seen and
// only bumps the activity timestamp on re-delivery.
func (tx *Tx) RecordChunk(index int, size int64) (*Session, bool, error) {
	firstSight, err := tx.ledger.repo.RecordChunk(tx.ctx, tx.id, index, size, tx.ledger.now().Unix())
	if err != nil {
		return nil, false, err
	}
	s, err := tx.Session()
	if err != nil {
		return nil, false, err
	}
	return s, firstSight, nil
}

func (tx *Tx) MarkCompleted(finalPath string) error {
	return tx.ledger.repo.UpdateStatus(tx.ctx, tx.id, StatusCompleted, "", finalPath, tx.ledger.now().Unix())
}

func (tx *Tx) MarkFailed(message string) error {
	return tx.ledger.repo.UpdateStatus(tx.ctx, tx.id, StatusError, message, "", tx.ledger.now().Unix())
}

// Reopen moves a failed session back to active and clears its error. Chunks
// listed in lost no longer count as received.
func (tx *Tx) Reopen(lost []int) error {
	now := tx.ledger.now().Unix()
	if len(lost) > 0 {
		if err := tx.ledger.repo.ForgetChunks(tx.ctx, tx.id, lost, now); err != nil {
			return fmt.Errorf("failed to forget lost chunks: %w", err)
		}
	}
	return tx.ledger.repo.UpdateStatus(tx.ctx, tx.id, StatusActive, "", "", now)
}

func (tx *Tx) Touch() error {
	return tx.ledger.repo.Touch(tx.ctx, tx.id, tx.ledger.now().Unix())
}
