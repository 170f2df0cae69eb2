package websocket

type MessageType string

const (
	MessageTypeProgress    MessageType = "progress"
	MessageTypeConnected   MessageType = "connected"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeError       MessageType = "error"
)

// AllUploads subscribes a client to every upload's progress.
const AllUploads = "*"

type IncomingMessage struct {
	Type     MessageType `json:"type"`
	UploadID string      `json:"uploadId,omitempty"`
}

type OutgoingMessage struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId,omitempty"`
	Error    string      `json:"error,omitempty"`
}

type ProgressMessage struct {
	Type     MessageType `json:"type"`
	UploadID string      `json:"uploadId"`
	Payload  interface{} `json:"payload"`
}

type BroadcastMessage struct {
	UploadID string
	Payload  interface{}
}
