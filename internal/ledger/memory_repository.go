package ledger

import (
	"context"
	"sort"
	"sync"
)

type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	chunks   map[string]map[int]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*Session),
		chunks:   make(map[string]map[int]int64),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return ErrSessionExists
	}
	stored := *s
	r.sessions[s.ID] = &stored
	r.chunks[s.ID] = make(map[int]int64)
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	result := *s
	return &result, nil
}

func (r *MemoryRepository) RecordChunk(ctx context.Context, id string, index int, size int64, now int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return false, ErrSessionNotFound
	}

	s.UpdatedAt = now
	if _, seen := r.chunks[id][index]; seen {
		return false, nil
	}
	r.chunks[id][index] = size
	s.UploadedChunks++
	s.UploadedSize += size
	return true, nil
}

func (r *MemoryRepository) ChunkIndices(ctx context.Context, id string) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	indices := make([]int, 0, len(r.chunks[id]))
	for index := range r.chunks[id] {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices, nil
}

func (r *MemoryRepository) ForgetChunks(ctx context.Context, id string, indices []int, now int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return ErrSessionNotFound
	}
	for _, index := range indices {
		size, seen := r.chunks[id][index]
		if !seen {
			continue
		}
		delete(r.chunks[id], index)
		s.UploadedChunks--
		s.UploadedSize -= size
	}
	s.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status Status, errorMessage, finalPath string, now int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return ErrSessionNotFound
	}
	s.Status = status
	s.ErrorMessage = errorMessage
	s.FinalPath = finalPath
	s.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) Touch(ctx context.Context, id string, now int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return ErrSessionNotFound
	}
	s.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) ListActiveBefore(ctx context.Context, before int64) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Session
	for _, s := range r.sessions {
		if s.Status == StatusActive && s.UpdatedAt < before {
			copied := *s
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt < result[j].UpdatedAt
	})
	return result, nil
}

func (r *MemoryRepository) DeleteTerminalBefore(ctx context.Context, before int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, s := range r.sessions {
		if s.Status.Terminal() && s.UpdatedAt < before {
			delete(r.sessions, id)
			delete(r.chunks, id)
			deleted++
		}
	}
	return deleted, nil
}
