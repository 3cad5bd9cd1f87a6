package websocket

import (
	"encoding/json"
	"log"
	"time"

	"lovelink/pkg/errors"
)

// Client to server frame types.
const (
	MessageTypePing              = "ping"
	MessageTypeSubscribeLatest   = "subscribe_latest"
	MessageTypeSubscribeMeta     = "subscribe_meta"
	MessageTypeSubscribeInbox    = "subscribe_inbox"
	MessageTypeSubscribePresence = "subscribe_presence"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeAppState          = "app_state"
)

// Server to client frame types.
const (
	MessageTypePong            = "pong"
	MessageTypeSubscribed      = "subscribed"
	MessageTypeUnsubscribed    = "unsubscribed"
	MessageTypeLatest          = "latest"
	MessageTypeMeta            = "meta"
	MessageTypeInbox           = "inbox"
	MessageTypePresence        = "presence"
	MessageTypePresenceStopped = "presence_stopped"
	MessageTypeError           = "error"
)

// WSMessage is the envelope of every frame in both directions.
type WSMessage struct {
	Type      string          `json:"type"`
	SubID     string          `json:"sub_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Decode unmarshals the frame payload into v.
func (m WSMessage) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return errors.BadRequest("Frame data is required", nil)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.BadRequest("Invalid frame data", err)
	}
	return nil
}

// EncodeFrame builds a server frame.
func EncodeFrame(frameType, subID string, data interface{}) ([]byte, error) {
	msg := struct {
		Type      string      `json:"type"`
		SubID     string      `json:"sub_id,omitempty"`
		Data      interface{} `json:"data,omitempty"`
		Timestamp string      `json:"timestamp"`
	}{
		Type:      frameType,
		SubID:     subID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(msg)
}

// SendFrame encodes and queues a frame; false when the client no longer accepts frames.
func (c *Client) SendFrame(frameType, subID string, data interface{}) bool {
	frame, err := EncodeFrame(frameType, subID, data)
	if err != nil {
		log.Printf("websocket: failed to encode %s frame for user %s: %v", frameType, c.UserID, err)
		return false
	}
	return c.Send(frame)
}

// SendError reports err on the subscription (or request) identified by subID.
func (c *Client) SendError(subID string, err error) bool {
	data := ErrorData{Code: "INTERNAL_ERROR", Message: "Internal server error"}
	if appErr, ok := err.(*errors.AppError); ok {
		data = ErrorData{Code: appErr.Code, Message: appErr.Message}
	}
	return c.SendFrame(MessageTypeError, subID, data)
}

// HandlerFunc handles one client frame. A returned error is sent back as an error frame.
type HandlerFunc func(client *Client, msg WSMessage) error

// Router dispatches client frames by type.
type Router struct {
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
	}
}

func (r *Router) Handle(frameType string, h HandlerFunc) {
	r.handlers[frameType] = h
}

// HandleClientMessage decodes and dispatches one raw frame.
func (r *Router) HandleClientMessage(client *Client, raw []byte) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		client.SendError("", errors.BadRequest("Invalid frame", err))
		return
	}

	if msg.Type == MessageTypePing {
		client.SendFrame(MessageTypePong, msg.SubID, nil)
		return
	}

	h, ok := r.handlers[msg.Type]
	if !ok {
		client.SendError(msg.SubID, errors.BadRequest("Unknown frame type: "+msg.Type, nil))
		return
	}

	if err := h(client, msg); err != nil {
		if _, isApp := err.(*errors.AppError); !isApp {
			log.Printf("websocket: %s frame from user %s failed: %v", msg.Type, client.UserID, err)
		}
		client.SendError(msg.SubID, err)
	}
}
