package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/lanshare/lanshare_server/internal/assembly"
	"github.com/lanshare/lanshare_server/internal/history"
	"github.com/lanshare/lanshare_server/internal/ledger"
	"github.com/lanshare/lanshare_server/internal/metrics"
	"github.com/lanshare/lanshare_server/internal/sharedfs"
	"github.com/lanshare/lanshare_server/internal/storage"
	"github.com/rs/zerolog/log"
)

type HistoryRecorder interface {
	Record(ctx context.Context, action history.Action, filename string, size int64, sourceAddress string) error
}

type ProgressPublisher interface {
	Publish(uploadID string, payload interface{})
}

type ThumbnailScheduler interface {
	Schedule(absPath, relPath string)
}

type Option func(*Coordinator)

func WithHistory(h HistoryRecorder) Option {
	return func(c *Coordinator) { c.history = h }
}

func WithProgress(p ProgressPublisher) Option {
	return func(c *Coordinator) { c.progress = p }
}

func WithThumbnails(t ThumbnailScheduler) Option {
	return func(c *Coordinator) { c.thumbnails = t }
}

func WithMetrics(m *metrics.UploadMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator drives an upload from its first chunk to the assembled file.
type Coordinator struct {
	ledger     *ledger.Ledger
	store      storage.ChunkStore
	engine     *assembly.Engine
	root       *sharedfs.Root
	gate       *Gate
	history    HistoryRecorder
	progress   ProgressPublisher
	thumbnails ThumbnailScheduler
	metrics    *metrics.UploadMetrics
}

func NewCoordinator(l *ledger.Ledger, store storage.ChunkStore, engine *assembly.Engine, root *sharedfs.Root, gate *Gate, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger: l,
		store:  store,
		engine: engine,
		root:   root,
		gate:   gate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeginRequest is the metadata every upload call carries.
type BeginRequest struct {
	UploadID     string `json:"uploadId"`
	FileName     string `json:"fileName"`
	TotalSize    int64  `json:"totalSize"`
	TotalChunks  int    `json:"totalChunks"`
	Path         string `json:"path"`
	RelativePath string `json:"relativePath"`
}

type ChunkRequest struct {
	BeginRequest
	ChunkIndex    int
	Body          io.Reader
	SourceAddress string
}

type ChunkAck struct {
	Success   bool   `json:"success"`
	Chunk     int    `json:"chunk"`
	Total     int    `json:"total"`
	UploadID  string `json:"upload_id"`
	Completed bool   `json:"completed"`
	Path      string `json:"path,omitempty"`
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	ID             string        `json:"id"`
	FileName       string        `json:"filename"`
	TotalSize      int64         `json:"total_size"`
	UploadedSize   int64         `json:"uploaded_size"`
	TotalChunks    int           `json:"total_chunks"`
	UploadedChunks int           `json:"uploaded_chunks"`
	Status         ledger.Status `json:"status"`
	Progress       float64       `json:"progress"`
	MissingChunks  []int         `json:"missing_chunks,omitempty"`
	Error          string        `json:"error,omitempty"`
	FinalPath      string        `json:"final_path,omitempty"`
}

func newSnapshot(s *ledger.Session) *Snapshot {
	return &Snapshot{
		ID:             s.ID,
		FileName:       s.FileName,
		TotalSize:      s.TotalSize,
		UploadedSize:   s.UploadedSize,
		TotalChunks:    s.TotalChunks,
		UploadedChunks: s.UploadedChunks,
		Status:         s.Status,
		Progress:       s.Progress(),
		Error:          s.ErrorMessage,
		FinalPath:      s.FinalPath,
	}
}

func (r *BeginRequest) validate() error {
	if err := storage.ValidateSegment(r.UploadID); err != nil {
		return invalidf("upload id: %v", err)
	}
	if err := storage.ValidateSegment(r.FileName); err != nil {
		return invalidf("file name: %v", err)
	}
	if r.TotalChunks <= 0 {
		return invalidf("total chunks must be positive, got %d", r.TotalChunks)
	}
	if r.TotalSize < 0 {
		return invalidf("total size must not be negative, got %d", r.TotalSize)
	}
	return nil
}

// placement returns the cleaned destination directory and relative subpath
// for a session, both relative to the shared root.
func (c *Coordinator) placement(destPath, relativePath string) (string, string, error) {
	destDir, err := sharedfs.Clean(destPath)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	relPath, err := sharedfs.Clean(relativePath)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return destDir, relPath, nil
}

// finalPath resolves where the session's file lands. The directory part of
// RelPath is recreated under DestDir and FileName is always the base name.
func (c *Coordinator) finalPath(s *ledger.Session) (string, string, error) {
	subdir := ""
	if strings.Contains(s.RelPath, "/") {
		subdir = path.Dir(s.RelPath)
	}
	abs, rel, err := c.root.Resolve(s.DestDir, subdir, s.FileName)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return abs, rel, nil
}

// BeginOrResume registers the session on first sight and returns the stored
// row afterwards. A resumed session must declare the same chunk count.
func (c *Coordinator) BeginOrResume(ctx context.Context, req BeginRequest) (*ledger.Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	destDir, relPath, err := c.placement(req.Path, req.RelativePath)
	if err != nil {
		return nil, err
	}

	candidate := &ledger.Session{
		ID:          req.UploadID,
		FileName:    req.FileName,
		DestDir:     destDir,
		RelPath:     relPath,
		TotalSize:   req.TotalSize,
		TotalChunks: req.TotalChunks,
	}
	if _, _, err := c.finalPath(candidate); err != nil {
		return nil, err
	}

	s, created, err := c.ledger.Create(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info().
			Str("uploadId", s.ID).
			Str("fileName", s.FileName).
			Str("destDir", s.DestDir).
			Int64("totalSize", s.TotalSize).
			Int("totalChunks", s.TotalChunks).
			Msg("[UPLOAD] Session started")
		return s, nil
	}

	if s.TotalChunks != req.TotalChunks {
		return nil, invalidf("upload %s was started with %d chunks, got %d", s.ID, s.TotalChunks, req.TotalChunks)
	}
	return s, nil
}

// IngestChunk stores one chunk and updates the session. When the chunk makes
// the upload complete, the file is assembled before the call returns.
func (c *Coordinator) IngestChunk(ctx context.Context, req ChunkRequest) (*ChunkAck, error) {
	if req.ChunkIndex < 0 || req.ChunkIndex >= req.TotalChunks {
		return nil, invalidf("chunk index %d outside [0, %d)", req.ChunkIndex, req.TotalChunks)
	}
	if req.Body == nil {
		return nil, invalidf("chunk body is required")
	}

	s, err := c.BeginOrResume(ctx, req.BeginRequest)
	if err != nil {
		return nil, err
	}

	ack := &ChunkAck{
		Success:  true,
		Chunk:    req.ChunkIndex,
		Total:    s.TotalChunks,
		UploadID: s.ID,
	}
	if s.Status == ledger.StatusCompleted {
		ack.Completed = true
		ack.Path = s.FinalPath
		return ack, nil
	}

	if err := c.gate.Acquire(s.ID); err != nil {
		return nil, err
	}

	key := storage.ChunkKey{UploadID: s.ID, FileName: s.FileName, Index: req.ChunkIndex}
	size, err := c.store.Put(ctx, key, req.Body)
	if err != nil {
		log.Error().Err(err).Str("uploadId", s.ID).Int("chunkIndex", req.ChunkIndex).Msg("[UPLOAD] Failed to store chunk")
		return nil, fmt.Errorf("%w: %v", ErrChunkPersist, err)
	}

	var (
		current   *ledger.Session
		completed bool
		assembled bool
		written   int64
	)
	err = c.ledger.Update(ctx, s.ID, func(tx *ledger.Tx) error {
		stored, err := tx.Session()
		if err != nil {
			return err
		}
		if stored.Status == ledger.StatusCompleted {
			// Raced with the completing chunk; the bytes are no longer needed.
			if _, err := c.store.DeleteSession(ctx, s.ID); err != nil {
				log.Warn().Err(err).Str("uploadId", s.ID).Msg("[UPLOAD] Failed to discard late chunk")
			}
			current = stored
			completed = true
			return nil
		}

		if stored.Status == ledger.StatusError {
			// A new chunk is the client retrying; the session resumes.
			lost, err := c.lostChunks(ctx, stored)
			if err != nil {
				return err
			}
			if err := tx.Reopen(lost); err != nil {
				return err
			}
			log.Info().
				Str("uploadId", s.ID).
				Str("previousError", stored.ErrorMessage).
				Int("chunkIndex", req.ChunkIndex).
				Ints("lost", lost).
				Msg("[UPLOAD] Resuming failed upload")
		}

		updated, firstSight, err := tx.RecordChunk(req.ChunkIndex, size)
		if err != nil {
			return err
		}
		c.metrics.RecordChunk(size, firstSight)
		current = updated

		if !updated.AllChunksSeen() {
			return nil
		}

		written, err = c.assemble(ctx, tx, updated)
		if refreshed, getErr := tx.Session(); getErr == nil {
			current = refreshed
		}
		if err != nil {
			return err
		}
		completed = true
		assembled = true
		return nil
	})
	if err != nil {
		if current != nil {
			c.publish(current)
		}
		if errors.Is(err, ledger.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: upload %s", ErrNotFound, s.ID)
		}
		return nil, err
	}

	c.publish(current)
	if completed {
		ack.Completed = true
		ack.Path = current.FinalPath
		if assembled {
			c.afterCompletion(ctx, current, written, req.SourceAddress)
		}
	}
	return ack, nil
}

// lostChunks lists the indices the chunk store no longer holds for s.
func (c *Coordinator) lostChunks(ctx context.Context, s *ledger.Session) ([]int, error) {
	_, err := c.engine.Check(ctx, assembly.Request{
		UploadID:    s.ID,
		FileName:    s.FileName,
		TotalChunks: s.TotalChunks,
	})
	var incomplete *assembly.IncompleteError
	if errors.As(err, &incomplete) {
		return incomplete.Missing, nil
	}
	return nil, err
}

// assemble runs under the session lock and moves the session to a terminal
// state either way.
func (c *Coordinator) assemble(ctx context.Context, tx *ledger.Tx, s *ledger.Session) (int64, error) {
	abs, rel, err := c.finalPath(s)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	written, err := c.engine.Assemble(ctx, assembly.Request{
		UploadID:     s.ID,
		FileName:     s.FileName,
		TotalChunks:  s.TotalChunks,
		DeclaredSize: s.TotalSize,
		FinalPath:    abs,
	})
	if err != nil {
		assemblyErr := &AssemblyError{UploadID: s.ID, Err: err}
		var incomplete *assembly.IncompleteError
		if errors.As(err, &incomplete) {
			assemblyErr.Missing = incomplete.Missing
		}

		if markErr := tx.MarkFailed(assemblyErr.Error()); markErr != nil {
			log.Error().Err(markErr).Str("uploadId", s.ID).Msg("[UPLOAD] Failed to mark session as failed")
		}
		c.gate.Release(s.ID)
		c.metrics.RecordFailed()

		log.Warn().Err(err).Str("uploadId", s.ID).Ints("missing", assemblyErr.Missing).Msg("[UPLOAD] Assembly failed")
		return 0, assemblyErr
	}

	if err := tx.MarkCompleted(rel); err != nil {
		return 0, err
	}
	c.gate.Release(s.ID)
	c.metrics.RecordCompleted(time.Since(start).Seconds())

	log.Info().
		Str("uploadId", s.ID).
		Str("path", rel).
		Int64("bytes", written).
		Dur("took", time.Since(start)).
		Msg("[UPLOAD] Upload completed")
	return written, nil
}

func (c *Coordinator) afterCompletion(ctx context.Context, s *ledger.Session, written int64, sourceAddress string) {
	if c.history != nil {
		if err := c.history.Record(ctx, history.ActionUpload, s.FinalPath, written, sourceAddress); err != nil {
			log.Warn().Err(err).Str("uploadId", s.ID).Msg("[UPLOAD] Failed to record history")
		}
	}
	if c.thumbnails != nil {
		if abs, rel, err := c.root.Resolve(s.FinalPath); err == nil {
			c.thumbnails.Schedule(abs, rel)
		}
	}
}

func (c *Coordinator) publish(s *ledger.Session) {
	if c.progress != nil {
		c.progress.Publish(s.ID, newSnapshot(s))
	}
}

// Status reports the session's progress. For failed sessions the missing
// indices come from the chunk store, for active ones from the ledger.
func (c *Coordinator) Status(ctx context.Context, uploadID string) (*Snapshot, error) {
	s, err := c.ledger.Get(ctx, uploadID)
	if err != nil {
		if errors.Is(err, ledger.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: upload %s", ErrNotFound, uploadID)
		}
		return nil, err
	}

	snapshot := newSnapshot(s)
	switch s.Status {
	case ledger.StatusActive:
		missing, err := c.ledger.MissingChunks(ctx, s)
		if err != nil {
			return nil, err
		}
		snapshot.MissingChunks = missing
	case ledger.StatusError:
		if lost, err := c.lostChunks(ctx, s); err == nil {
			snapshot.MissingChunks = lost
		}
	}
	return snapshot, nil
}
