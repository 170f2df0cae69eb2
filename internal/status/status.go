package status

import (
	"github.com/goccy/go-json"
	"github.com/lanshare/lanshare_server/internal/sharedfs"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// SessionCounter reports how many uploads hold an admission slot.
type SessionCounter interface {
	Active() int
}

type StatusEndpoints struct {
	version           string
	root              *sharedfs.Root
	sessions          SessionCounter
	chunkSize         int64
	maxActiveSessions int
}

func NewEndpoints(version string, root *sharedfs.Root, sessions SessionCounter, chunkSize int64, maxActiveSessions int) *StatusEndpoints {
	return &StatusEndpoints{
		version:           version,
		root:              root,
		sessions:          sessions,
		chunkSize:         chunkSize,
		maxActiveSessions: maxActiveSessions,
	}
}

type StatusResponse struct {
	Health            string `json:"health"`
	Version           string `json:"version"`
	ChunkSize         int64  `json:"chunk_size"`
	MaxActiveSessions int    `json:"max_active_sessions"`
	ActiveSessions    int    `json:"active_sessions"`
}

type StorageInfoResponse struct {
	Success bool `json:"success"`
	*sharedfs.Usage
}

func writeJSON(ctx *fasthttp.RequestCtx, body interface{}) {
	responseJSON, err := json.Marshal(body)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(responseJSON)
}

// Status tells the browser client how to split files.
func (se *StatusEndpoints) Status(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, StatusResponse{
		Health:            "OK",
		Version:           se.version,
		ChunkSize:         se.chunkSize,
		MaxActiveSessions: se.maxActiveSessions,
		ActiveSessions:    se.sessions.Active(),
	})
}

func (se *StatusEndpoints) StorageInfo(ctx *fasthttp.RequestCtx) {
	usage, err := se.root.Usage()
	if err != nil {
		log.Error().Err(err).Msg("[STATUS] Failed to read disk usage")
		ctx.Error("Failed to read disk usage", fasthttp.StatusInternalServerError)
		return
	}
	writeJSON(ctx, StorageInfoResponse{Success: true, Usage: usage})
}
