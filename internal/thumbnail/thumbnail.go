package thumbnail

import (
	"context"
	"errors"
	"fmt"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

const (
	thumbSuffix = "_thumb.jpg"
	queueSize   = 64
)

var ErrNotImage = errors.New("file is not a supported image")

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

type job struct {
	absPath string
	relPath string
}

// Generator writes JPEG thumbnails for images under the shared root into a
// mirror tree rooted at dir.
type Generator struct {
	dir       string
	maxWidth  int
	maxHeight int
	queue     chan job
}

func NewGenerator(dir string, maxWidth, maxHeight int) (*Generator, error) {
	if maxWidth <= 0 {
		maxWidth = 300
	}
	if maxHeight <= 0 {
		maxHeight = 300
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	return &Generator{
		dir:       dir,
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		queue:     make(chan job, queueSize),
	}, nil
}

// PathFor maps a slash-separated path relative to the shared root onto its
// thumbnail file.
func (g *Generator) PathFor(relPath string) string {
	rel := strings.TrimSuffix(relPath, path.Ext(relPath)) + thumbSuffix
	return filepath.Join(g.dir, filepath.FromSlash(rel))
}

func (g *Generator) Generate(absPath, relPath string) (string, error) {
	if !IsImage(absPath) {
		return "", ErrNotImage
	}

	img, err := imaging.Open(absPath, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode image for thumbnail: %w", err)
	}

	thumb := imaging.Fit(img, g.maxWidth, g.maxHeight, imaging.Lanczos)

	target := g.PathFor(relPath)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}
	if err := imaging.Save(thumb, target, imaging.JPEGQuality(80)); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return target, nil
}

// Schedule queues a thumbnail without blocking. Jobs are dropped when the
// queue is full.
func (g *Generator) Schedule(absPath, relPath string) {
	if !IsImage(absPath) {
		return
	}
	select {
	case g.queue <- job{absPath: absPath, relPath: relPath}:
	default:
		log.Warn().Str("path", relPath).Msg("[THUMB] Queue full, skipping thumbnail")
	}
}

// Run drains the queue until ctx is done.
func (g *Generator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-g.queue:
			target, err := g.Generate(j.absPath, j.relPath)
			if err != nil {
				log.Warn().Err(err).Str("path", j.relPath).Msg("[THUMB] Failed to generate thumbnail")
				continue
			}
			log.Debug().Str("path", j.relPath).Str("thumbnail", target).Msg("[THUMB] Thumbnail generated")
		}
	}
}
