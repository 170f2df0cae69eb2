package gc

import (
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	collector *Collector
}

func NewEndpoints(collector *Collector) *Endpoints {
	return &Endpoints{collector: collector}
}

type CleanupResponse struct {
	Success bool `json:"success"`
	*Report
}

func (e *Endpoints) CleanupTemp(ctx *fasthttp.RequestCtx) {
	report, err := e.collector.RunNow(ctx)
	if err != nil {
		log.Error().Err(err).Msg("[GC] Manual cleanup failed")
		ctx.Error("Cleanup failed", fasthttp.StatusInternalServerError)
		return
	}

	response, _ := json.Marshal(CleanupResponse{Success: true, Report: report})
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(response)
}
