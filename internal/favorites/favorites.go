package favorites

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lanshare/lanshare_server/internal/sharedfs"
)

var (
	ErrFavoriteNotFound = errors.New("favorite not found")
	ErrFavoriteExists   = errors.New("path is already a favorite")
	ErrPathNotFound     = errors.New("path does not exist")
)

type Favorite struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

type Service struct {
	repo Repository
	root *sharedfs.Root
	now  func() time.Time
}

func NewService(repo Repository, root *sharedfs.Root) *Service {
	return &Service{repo: repo, root: root, now: time.Now}
}

func (s *Service) List(ctx context.Context) ([]*Favorite, error) {
	return s.repo.List(ctx)
}

// Add bookmarks a file or directory under the shared root. An empty name
// defaults to the last path element.
func (s *Service) Add(ctx context.Context, rawPath, name string) (*Favorite, error) {
	abs, rel, err := s.root.Resolve(rawPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, rel)
		}
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = path.Base("/" + rel)
	}

	fav := &Favorite{
		ID:        uuid.NewString(),
		Path:      rel,
		Name:      name,
		CreatedAt: s.now().Unix(),
	}
	if err := s.repo.Create(ctx, fav); err != nil {
		return nil, err
	}
	return fav, nil
}

func (s *Service) Remove(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
