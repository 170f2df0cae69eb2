package favorites

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/lanshare/lanshare_server/internal/sharedfs"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	service *Service
}

func NewEndpoints(service *Service) *Endpoints {
	return &Endpoints{service: service}
}

type AddRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type response struct {
	Success   bool        `json:"success"`
	Favorite  *Favorite   `json:"favorite,omitempty"`
	Favorites []*Favorite `json:"favorites,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body response) {
	payload, _ := json.Marshal(body)
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(payload)
}

func (e *Endpoints) List(ctx *fasthttp.RequestCtx) {
	favs, err := e.service.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("[FAVORITES] Failed to list favorites")
		writeJSON(ctx, fasthttp.StatusInternalServerError, response{Error: "failed to list favorites"})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, response{Success: true, Favorites: favs})
}

func (e *Endpoints) Add(ctx *fasthttp.RequestCtx) {
	var req AddRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, response{Error: "invalid request body"})
		return
	}

	fav, err := e.service.Add(ctx, req.Path, req.Name)
	switch {
	case err == nil:
		writeJSON(ctx, fasthttp.StatusCreated, response{Success: true, Favorite: fav})
	case errors.Is(err, sharedfs.ErrOutsideRoot), errors.Is(err, ErrPathNotFound):
		writeJSON(ctx, fasthttp.StatusNotFound, response{Error: err.Error()})
	case errors.Is(err, ErrFavoriteExists):
		writeJSON(ctx, fasthttp.StatusConflict, response{Error: err.Error()})
	default:
		log.Error().Err(err).Msg("[FAVORITES] Failed to add favorite")
		writeJSON(ctx, fasthttp.StatusInternalServerError, response{Error: "failed to add favorite"})
	}
}

func (e *Endpoints) Remove(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("favoriteID").(string)
	if id == "" {
		writeJSON(ctx, fasthttp.StatusBadRequest, response{Error: "favorite id is required"})
		return
	}

	err := e.service.Remove(ctx, id)
	switch {
	case err == nil:
		writeJSON(ctx, fasthttp.StatusOK, response{Success: true})
	case errors.Is(err, ErrFavoriteNotFound):
		writeJSON(ctx, fasthttp.StatusNotFound, response{Error: err.Error()})
	default:
		log.Error().Err(err).Str("favoriteId", id).Msg("[FAVORITES] Failed to remove favorite")
		writeJSON(ctx, fasthttp.StatusInternalServerError, response{Error: "failed to remove favorite"})
	}
}
