package thumbnail

import (
	"errors"
	"os"

	"github.com/lanshare/lanshare_server/internal/sharedfs"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	generator *Generator
	root      *sharedfs.Root
}

func NewEndpoints(generator *Generator, root *sharedfs.Root) *Endpoints {
	return &Endpoints{generator: generator, root: root}
}

// Get serves the thumbnail for ?path=, generating it on first request.
func (e *Endpoints) Get(ctx *fasthttp.RequestCtx) {
	abs, rel, err := e.root.Resolve(string(ctx.QueryArgs().Peek("path")))
	if err != nil || rel == "" {
		ctx.Error("Not Found", fasthttp.StatusNotFound)
		return
	}
	if !IsImage(rel) {
		ctx.Error("Not an image", fasthttp.StatusBadRequest)
		return
	}

	target := e.generator.PathFor(rel)
	if _, err := os.Stat(target); err != nil {
		target, err = e.generator.Generate(abs, rel)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
				return
			}
			log.Warn().Err(err).Str("path", rel).Msg("[THUMB] Failed to generate thumbnail")
			ctx.Error("Failed to generate thumbnail", fasthttp.StatusUnprocessableEntity)
			return
		}
	}

	ctx.SetContentType("image/jpeg")
	ctx.Response.Header.Set("Cache-Control", "public, max-age=86400")
	ctx.SendFile(target)
}
