package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/lanshare/lanshare_server/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Gate bounds how many sessions may be ingesting at once. A slot is held
// from a session's first accepted chunk until Release, or until the session
// has been idle longer than idleTimeout and another session needs the slot.
type Gate struct {
	mu          sync.Mutex
	max         int
	enforce     bool
	idleTimeout time.Duration
	slots       map[string]time.Time // uploadId -> last activity
	metrics     *metrics.UploadMetrics
	now         func() time.Time
}

func NewGate(max int, enforce bool, idleTimeout time.Duration, m *metrics.UploadMetrics) *Gate {
	if max <= 0 {
		max = 3
	}
	return &Gate{
		max:         max,
		enforce:     enforce,
		idleTimeout: idleTimeout,
		slots:       make(map[string]time.Time),
		metrics:     m,
		now:         time.Now,
	}
}

// Acquire takes or refreshes the slot for uploadID.
func (g *Gate) Acquire(uploadID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if _, held := g.slots[uploadID]; held {
		g.slots[uploadID] = now
		return nil
	}

	if len(g.slots) >= g.max {
		g.evictIdle(now)
	}

	if len(g.slots) >= g.max {
		if g.enforce {
			g.metrics.RecordRejected()
			return fmt.Errorf("%w: %d sessions already active", ErrTooManySessions, len(g.slots))
		}
		log.Warn().
			Str("uploadId", uploadID).
			Int("active", len(g.slots)).
			Int("max", g.max).
			Msg("[UPLOAD] Session limit exceeded")
	}

	g.slots[uploadID] = now
	g.metrics.SetActiveSessions(len(g.slots))
	return nil
}

func (g *Gate) evictIdle(now time.Time) {
	if g.idleTimeout <= 0 {
		return
	}
	for id, last := range g.slots {
		if now.Sub(last) > g.idleTimeout {
			delete(g.slots, id)
			log.Debug().Str("uploadId", id).Msg("[UPLOAD] Released idle session slot")
		}
	}
	g.metrics.SetActiveSessions(len(g.slots))
}

func (g *Gate) Release(uploadID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.slots, uploadID)
	g.metrics.SetActiveSessions(len(g.slots))
}

func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}
