package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionUpload Action = "upload"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Entry struct {
	ID            string `json:"id"`
	Action        Action `json:"action"`
	Filename      string `json:"filename"`
	Size          int64  `json:"size"`
	SourceAddress string `json:"source_address"`
	CreatedAt     int64  `json:"created_at"`
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Record appends one entry. filename is the path relative to the shared root.
func (s *Service) Record(ctx context.Context, action Action, filename string, size int64, sourceAddress string) error {
	entry := &Entry{
		ID:            uuid.NewString(),
		Action:        action,
		Filename:      filename,
		Size:          size,
		SourceAddress: sourceAddress,
		CreatedAt:     s.now().Unix(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// List returns the newest entries first. limit is clamped to
// [1, MaxListLimit]; zero or less means DefaultListLimit.
func (s *Service) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.repo.ListRecent(ctx, limit)
}
