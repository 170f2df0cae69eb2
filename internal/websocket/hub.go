package websocket

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

type Hub struct {
	clients    map[*Client]bool
	byUpload   map[string][]*Client // uploadId or AllUploads -> subscribers
	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUpload:   make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run dispatches registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToUpload(message)

		case <-ctx.Done():
			h.closeAll()
			return nil
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	close(client.send)

	for _, uploadID := range client.subscribedTopics() {
		h.removeFromSubscribers(client, uploadID)
	}

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Read pumps notice the closed connection and exit on their own.
	for client := range h.clients {
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

func (h *Hub) removeFromSubscribers(client *Client, uploadID string) {
	subscribers := h.byUpload[uploadID]
	for i, c := range subscribers {
		if c == client {
			h.byUpload[uploadID] = append(subscribers[:i], subscribers[i+1:]...)
			break
		}
	}
	if len(h.byUpload[uploadID]) == 0 {
		delete(h.byUpload, uploadID)
	}
}

func (h *Hub) Subscribe(client *Client, uploadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.byUpload[uploadID] {
		if c == client {
			return
		}
	}

	h.byUpload[uploadID] = append(h.byUpload[uploadID], client)

	log.Debug().
		Str("uploadId", uploadID).
		Int("subscribers", len(h.byUpload[uploadID])).
		Msg("[WS] Upload subscription added")
}

func (h *Hub) Unsubscribe(client *Client, uploadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromSubscribers(client, uploadID)
}

// recipients returns the upload's subscribers plus the AllUploads
// subscribers, each client once.
func (h *Hub) recipients(uploadID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]bool)
	var clients []*Client
	for _, topic := range []string{uploadID, AllUploads} {
		for _, c := range h.byUpload[topic] {
			if !seen[c] {
				seen[c] = true
				clients = append(clients, c)
			}
		}
	}
	return clients
}

func (h *Hub) broadcastToUpload(msg *BroadcastMessage) {
	clients := h.recipients(msg.UploadID)
	if len(clients) == 0 {
		return
	}

	progress := &ProgressMessage{
		Type:     MessageTypeProgress,
		UploadID: msg.UploadID,
		Payload:  msg.Payload,
	}

	for _, client := range clients {
		if !client.queueProgress(progress) {
			log.Debug().
				Str("clientId", client.id).
				Str("uploadId", msg.UploadID).
				Msg("[WS] Client behind, superseded unsent progress")
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues a progress update for uploadID. It never blocks; updates
// are dropped when the hub is saturated or stopped.
func (h *Hub) Publish(uploadID string, payload interface{}) {
	select {
	case h.broadcast <- &BroadcastMessage{UploadID: uploadID, Payload: payload}:
	default:
		log.Debug().Str("uploadId", uploadID).Msg("[WS] Broadcast queue full, dropping progress")
	}
}

func (h *Hub) GetStats() (totalClients, totalSubscriptions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	totalClients = len(h.clients)
	for _, clients := range h.byUpload {
		totalSubscriptions += len(clients)
	}
	return
}
