package middleware

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// AccessLog logs one debug line per request, and a warning for server errors.
func AccessLog(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)

		status := ctx.Response.StatusCode()
		event := log.Debug()
		if status >= fasthttp.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", status).
			Str("remoteAddr", ctx.RemoteAddr().String()).
			Dur("took", time.Since(start)).
			Msg("[HTTP] Request handled")
	}
}
