package websocket

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout   = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4 * 1024
	sendBufferSize = 256
)

// Client is one progress feed connection. Control replies go through send;
// progress frames are kept per upload so a slow reader only ever gets the
// latest snapshot of each upload instead of a backlog.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	id            string
	send          chan interface{}
	subscriptions map[string]bool // uploadId or AllUploads -> subscribed
	mu            sync.RWMutex

	progressMu sync.Mutex
	pending    map[string]*ProgressMessage
	order      []string // uploads with a pending frame, oldest first
	ready      chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		id:            id,
		send:          make(chan interface{}, sendBufferSize),
		subscriptions: make(map[string]bool),
		pending:       make(map[string]*ProgressMessage),
		ready:         make(chan struct{}, 1),
	}
}

// queueProgress replaces any unsent frame for the same upload. It reports
// false when an older frame was overwritten.
func (c *Client) queueProgress(msg *ProgressMessage) bool {
	c.progressMu.Lock()
	_, replaced := c.pending[msg.UploadID]
	if !replaced {
		c.order = append(c.order, msg.UploadID)
	}
	c.pending[msg.UploadID] = msg
	c.progressMu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return !replaced
}

// takeProgress empties the pending frames in the order their uploads first
// queued.
func (c *Client) takeProgress() []*ProgressMessage {
	c.progressMu.Lock()
	defer c.progressMu.Unlock()

	frames := make([]*ProgressMessage, 0, len(c.order))
	for _, uploadID := range c.order {
		frames = append(frames, c.pending[uploadID])
	}
	c.order = c.order[:0]
	clear(c.pending)
	return frames
}

func (c *Client) Subscribe(uploadID string) {
	c.mu.Lock()
	c.subscriptions[uploadID] = true
	c.mu.Unlock()

	c.hub.Subscribe(c, uploadID)

	log.Debug().
		Str("clientId", c.id).
		Str("uploadId", uploadID).
		Msg("[WS] Client subscribed to upload")
}

func (c *Client) Unsubscribe(uploadID string) {
	c.mu.Lock()
	delete(c.subscriptions, uploadID)
	c.mu.Unlock()

	c.hub.Unsubscribe(c, uploadID)

	log.Debug().
		Str("clientId", c.id).
		Str("uploadId", uploadID).
		Msg("[WS] Client unsubscribed from upload")
}

func (c *Client) IsSubscribed(uploadID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[uploadID]
}

func (c *Client) subscribedTopics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topics := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		topics = append(topics, id)
	}
	return topics
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg IncomingMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Str("clientId", c.id).Err(err).Msg("[WS] Read error")
			} else {
				log.Debug().Str("clientId", c.id).Msg("[WS] Client disconnected")
			}
			return
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *IncomingMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if msg.UploadID != "" {
			c.Subscribe(msg.UploadID)
		}

	case MessageTypeUnsubscribe:
		if msg.UploadID != "" {
			c.Unsubscribe(msg.UploadID)
		}

	case MessageTypePing:
		c.enqueue(&OutgoingMessage{Type: MessageTypePong})

	default:
		c.enqueue(&OutgoingMessage{Type: MessageTypeError, Error: "unknown message type"})
		log.Debug().Str("type", string(msg.Type)).Msg("[WS] Unknown message type")
	}
}

func (c *Client) enqueue(msg interface{}) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				log.Debug().Str("clientId", c.id).Err(err).Msg("[WS] Write error")
				return
			}

		case <-c.ready:
			for _, frame := range c.takeProgress() {
				c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := c.conn.WriteJSON(frame); err != nil {
					log.Debug().Str("clientId", c.id).Str("uploadId", frame.UploadID).Err(err).Msg("[WS] Progress write error")
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Str("clientId", c.id).Err(err).Msg("[WS] Ping error")
				return
			}
		}
	}
}
