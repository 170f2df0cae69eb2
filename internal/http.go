package internal

import (
	"strings"

	"github.com/lanshare/lanshare_server/internal/favorites"
	"github.com/lanshare/lanshare_server/internal/gc"
	"github.com/lanshare/lanshare_server/internal/health"
	"github.com/lanshare/lanshare_server/internal/history"
	"github.com/lanshare/lanshare_server/internal/middleware"
	"github.com/lanshare/lanshare_server/internal/status"
	"github.com/lanshare/lanshare_server/internal/thumbnail"
	"github.com/lanshare/lanshare_server/internal/upload"
	"github.com/lanshare/lanshare_server/internal/websocket"
	"github.com/valyala/fasthttp"
)

// Endpoints groups every handler set the router dispatches to. Thumbnails
// may be nil when thumbnail generation is disabled.
type Endpoints struct {
	Upload     *upload.Endpoints
	GC         *gc.Endpoints
	Status     *status.StatusEndpoints
	Health     *health.HealthEndpoints
	History    *history.Endpoints
	Favorites  *favorites.Endpoints
	Thumbnails *thumbnail.Endpoints
	WebSocket  *websocket.Handler
	Metrics    fasthttp.RequestHandler
}

func methodNotAllowed(ctx *fasthttp.RequestCtx) {
	ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
}

func NewRequestHandler(config *Config, e *Endpoints) fasthttp.RequestHandler {
	corsMiddleware := middleware.NewCORSMiddleware(config.Server.AllowedOrigins)

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/health":
			e.Health.Health(ctx)
		case path == "/status":
			e.Status.Status(ctx)
		case path == "/metrics":
			e.Metrics(ctx)
		case path == "/ws":
			e.WebSocket.HandleFastHTTP(ctx)

		case path == "/api/upload-init":
			if method == fasthttp.MethodPost {
				e.Upload.Init(ctx)
			} else {
				methodNotAllowed(ctx)
			}
		case path == "/api/upload-chunk":
			if method == fasthttp.MethodPost {
				e.Upload.Chunk(ctx)
			} else {
				methodNotAllowed(ctx)
			}
		case strings.HasPrefix(path, "/api/upload-status/"):
			parts := strings.Split(path, "/")
			if len(parts) == 4 && parts[3] != "" {
				ctx.SetUserValue("uploadID", parts[3])
				if method == fasthttp.MethodGet {
					e.Upload.Status(ctx)
				} else {
					methodNotAllowed(ctx)
				}
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}
		case path == "/api/cleanup-temp":
			if method == fasthttp.MethodPost {
				e.GC.CleanupTemp(ctx)
			} else {
				methodNotAllowed(ctx)
			}

		case path == "/api/storage-info":
			e.Status.StorageInfo(ctx)
		case path == "/api/history":
			if method == fasthttp.MethodGet {
				e.History.List(ctx)
			} else {
				methodNotAllowed(ctx)
			}

		case path == "/api/favorites":
			switch method {
			case fasthttp.MethodGet:
				e.Favorites.List(ctx)
			case fasthttp.MethodPost:
				e.Favorites.Add(ctx)
			default:
				methodNotAllowed(ctx)
			}
		case strings.HasPrefix(path, "/api/favorites/"):
			parts := strings.Split(path, "/")
			if len(parts) == 4 && parts[3] != "" {
				ctx.SetUserValue("favoriteID", parts[3])
				if method == fasthttp.MethodDelete {
					e.Favorites.Remove(ctx)
				} else {
					methodNotAllowed(ctx)
				}
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		case path == "/api/thumbnail" && e.Thumbnails != nil:
			e.Thumbnails.Get(ctx)

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return middleware.AccessLog(corsMiddleware.Handle(handler))
}
