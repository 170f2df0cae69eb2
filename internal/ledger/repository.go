package ledger

import "context"

// Repository is the persistence behind the Ledger. Implementations need not
// serialize per-session mutations themselves; the Ledger does that.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	// RecordChunk stores the chunk index and, only if the index was not seen
	// before, adds one chunk and size bytes to the session counters.
	RecordChunk(ctx context.Context, id string, index int, size int64, now int64) (bool, error)
	ChunkIndices(ctx context.Context, id string) ([]int, error)
	// ForgetChunks drops the given indices and recomputes the session
	// counters from what remains.
	ForgetChunks(ctx context.Context, id string, indices []int, now int64) error
	UpdateStatus(ctx context.Context, id string, status Status, errorMessage, finalPath string, now int64) error
	Touch(ctx context.Context, id string, now int64) error
	ListActiveBefore(ctx context.Context, before int64) ([]*Session, error)
	DeleteTerminalBefore(ctx context.Context, before int64) (int64, error)
}
