package websocket

import (
	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

var upgrader = websocket.FastHTTPUpgrader{
	CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
		// LAN clients load the UI from the same server under any hostname.
		return true
	},
}

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleFastHTTP upgrades the request. An optional uploadId query parameter
// subscribes the connection right away; "*" follows every upload.
func (h *Handler) HandleFastHTTP(ctx *fasthttp.RequestCtx) {
	initial := string(ctx.QueryArgs().Peek("uploadId"))
	remote := ctx.RemoteAddr().String()

	err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := NewClient(h.hub, conn, uuid.NewString())
		h.hub.Register(client)

		client.send <- &OutgoingMessage{
			Type:     MessageTypeConnected,
			ClientID: client.id,
		}
		if initial != "" {
			client.Subscribe(initial)
		}

		log.Info().
			Str("clientId", client.id).
			Str("remoteAddr", remote).
			Msg("[WS] Client connected")

		go client.WritePump()
		client.ReadPump()
	})

	if err != nil {
		log.Error().Err(err).Msg("[WS] Failed to upgrade connection")
		return
	}
}
