package types

import "encoding/json"

// Event names used on the websocket connection.
const (
	// client -> server
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"

	// server -> client
	EventReceiveMessage = "receive_message"
	EventUserTyping     = "user_typing"
	EventError          = "error"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// The different payloads transferred from the client to here.

// RoomRequest is the payload of join_room and leave_room if it is sent as an object instead of a plain string.
type RoomRequest struct {
	Room string `json:"room" mapstructure:"room"`
}

// SendMessageRequest is the payload of send_message. Author is accepted for compatibility, the server always
// uses the authenticated nick.
type SendMessageRequest struct {
	Room    string `json:"room" mapstructure:"room"`
	Author  string `json:"author" mapstructure:"author"`
	Message string `json:"message" mapstructure:"message"`
}

// TypingRequest is the payload of typing.
type TypingRequest struct {
	Room   string `json:"room" mapstructure:"room"`
	Author string `json:"author" mapstructure:"author"`
}

// ErrorMessage is sent to a single client if one of its requests failed.
type ErrorMessage struct {
	Event   string `json:"event"`
	Room    string `json:"room,omitempty"`
	Message string `json:"message"`
}

// EncodeWireMessage wraps data into the websocket envelope for the given event.
func EncodeWireMessage(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{
		Event: event,
		Data:  raw,
	})
}
