package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lanshare/lanshare_server/internal/assembly"
	"github.com/lanshare/lanshare_server/internal/ledger"
	"github.com/lanshare/lanshare_server/internal/metrics"
	"github.com/lanshare/lanshare_server/internal/storage"
	"github.com/rs/zerolog/log"
)

const AbandonedMessage = "abandoned"

type Config struct {
	Interval          time.Duration
	ResumptionTimeout time.Duration
	Retention         time.Duration
	// SharedRoot, when set, is scanned for partial files left by merges
	// that never finished.
	SharedRoot string
}

// SlotReleaser frees an admission slot held by an upload.
type SlotReleaser interface {
	Release(uploadID string)
}

type Report struct {
	RemovedDirs       int   `json:"removed"`
	AbandonedSessions int   `json:"sessions"`
	RemovedChunks     int   `json:"chunks"`
	ReclaimedBytes    int64 `json:"bytes"`
	ExpiredRows       int64 `json:"expired"`
	RemovedPartials   int   `json:"partials"`
}

// Collector reclaims temporary chunk directories nobody has written to within
// the resumption timeout and drops old terminal ledger rows.
type Collector struct {
	ledger   *ledger.Ledger
	store    storage.ChunkStore
	releaser SlotReleaser
	metrics  *metrics.UploadMetrics
	config   Config
	mu       sync.Mutex // one sweep at a time
	now      func() time.Time
}

func NewCollector(l *ledger.Ledger, store storage.ChunkStore, releaser SlotReleaser, m *metrics.UploadMetrics, config Config) *Collector {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.ResumptionTimeout <= 0 {
		config.ResumptionTimeout = time.Hour
	}
	if config.Retention <= 0 {
		config.Retention = 24 * time.Hour
	}
	return &Collector{
		ledger:   l,
		store:    store,
		releaser: releaser,
		metrics:  m,
		config:   config,
		now:      time.Now,
	}
}

// Run sweeps once at startup and then on every interval until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", c.config.Interval).
		Dur("resumptionTimeout", c.config.ResumptionTimeout).
		Dur("retention", c.config.Retention).
		Msg("[GC] Cleanup scheduler started")

	c.runCleanup(ctx)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.runCleanup(ctx)
		case <-ctx.Done():
			log.Info().Msg("[GC] Stopping cleanup scheduler")
			return nil
		}
	}
}

func (c *Collector) runCleanup(ctx context.Context) {
	report, err := c.RunNow(ctx)
	if err != nil {
		log.Error().Err(err).Msg("[GC] Cleanup failed")
		return
	}
	log.Info().
		Int("removedDirs", report.RemovedDirs).
		Int("abandonedSessions", report.AbandonedSessions).
		Int64("reclaimedBytes", report.ReclaimedBytes).
		Int64("expiredRows", report.ExpiredRows).
		Int("removedPartials", report.RemovedPartials).
		Msg("[GC] Cleanup completed")
}

// RunNow sweeps immediately, for the cleanup endpoint and command.
func (c *Collector) RunNow(ctx context.Context) (*Report, error) {
	return c.Sweep(ctx, c.now())
}

// Sweep reclaims everything stale as of now.
func (c *Collector) Sweep(ctx context.Context, now time.Time) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := &Report{}
	cutoff := now.Add(-c.config.ResumptionTimeout)

	infos, err := c.store.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list temporary sessions: %w", err)
	}

	withData := make(map[string]bool, len(infos))
	for _, info := range infos {
		if !info.LastModified.Before(cutoff) {
			withData[info.UploadID] = true
			continue
		}
		if err := c.reclaimTempDir(ctx, info, report); err != nil {
			log.Warn().Err(err).Str("uploadId", info.UploadID).Msg("[GC] Failed to reclaim temporary directory")
			withData[info.UploadID] = true
		}
	}

	stale, err := c.ledger.ListActiveBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	for _, s := range stale {
		if withData[s.ID] {
			continue
		}
		abandoned, err := c.abandon(ctx, s.ID, cutoff)
		if err != nil {
			log.Warn().Err(err).Str("uploadId", s.ID).Msg("[GC] Failed to mark session abandoned")
			continue
		}
		if abandoned {
			report.AbandonedSessions++
		}
	}

	if c.config.SharedRoot != "" {
		partials, partialBytes, err := assembly.RemoveStalePartials(c.config.SharedRoot, cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("[GC] Failed to sweep partial files")
		}
		report.RemovedPartials = partials
		report.ReclaimedBytes += partialBytes
	}

	expired, err := c.ledger.DeleteTerminalBefore(ctx, now.Add(-c.config.Retention))
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	report.ExpiredRows = expired

	c.metrics.RecordSweep(int64(report.RemovedDirs), report.ReclaimedBytes, int64(report.AbandonedSessions), report.ExpiredRows)
	return report, nil
}

func (c *Collector) reclaimTempDir(ctx context.Context, info storage.SessionInfo, report *Report) error {
	return c.ledger.Update(ctx, info.UploadID, func(tx *ledger.Tx) error {
		removed, err := c.store.DeleteSession(ctx, info.UploadID)
		if err != nil {
			return err
		}
		report.RemovedDirs++
		report.RemovedChunks += removed
		report.ReclaimedBytes += info.Bytes

		s, err := tx.Session()
		if errors.Is(err, ledger.ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if s.Status == ledger.StatusActive {
			if err := tx.MarkFailed(AbandonedMessage); err != nil {
				return err
			}
			report.AbandonedSessions++
		}
		c.releaser.Release(info.UploadID)

		log.Debug().
			Str("uploadId", info.UploadID).
			Int("chunks", removed).
			Time("lastModified", info.LastModified).
			Msg("[GC] Reclaimed abandoned upload")
		return nil
	})
}

// abandon marks an active session with no temporary data as abandoned unless
// it saw activity after cutoff in the meantime.
func (c *Collector) abandon(ctx context.Context, uploadID string, cutoff time.Time) (bool, error) {
	abandoned := false
	err := c.ledger.Update(ctx, uploadID, func(tx *ledger.Tx) error {
		s, err := tx.Session()
		if err != nil {
			return err
		}
		if s.Status != ledger.StatusActive || s.UpdatedAt >= cutoff.Unix() {
			return nil
		}
		if err := tx.MarkFailed(AbandonedMessage); err != nil {
			return err
		}
		c.releaser.Release(uploadID)
		abandoned = true
		return nil
	})
	return abandoned, err
}
