package history

import (
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	service *Service
}

func NewEndpoints(service *Service) *Endpoints {
	return &Endpoints{service: service}
}

type ListResponse struct {
	Success bool     `json:"success"`
	History []*Entry `json:"history"`
}

func (e *Endpoints) List(ctx *fasthttp.RequestCtx) {
	limit := ctx.QueryArgs().GetUintOrZero("limit")

	entries, err := e.service.List(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("[HISTORY] Failed to list history")
		ctx.Error("Failed to list history", fasthttp.StatusInternalServerError)
		return
	}

	response, _ := json.Marshal(ListResponse{Success: true, History: entries})
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(response)
}
