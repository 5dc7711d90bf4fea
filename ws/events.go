package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownEvent     = errors.New("unknown event")
)

// HandleEvent processes one frame received from the session's connection. Events of one connection must be
// handled sequentially, this keeps the messages of a sender in order for all recipients.
// Failures are reported to the sender via an error event and returned, the connection stays usable.
func (h *Hub) HandleEvent(ctx context.Context, s *Session, raw []byte) error {
	message := types.WebsocketMessage{}
	err := json.Unmarshal(raw, &message)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		h.sendError(s, "", "", err)
		return err
	}

	switch message.Event {
	case types.EventJoinRoom:
		roomName, err := decodeRoom(message.Data)
		if err == nil {
			err = h.Registry.Join(s.Conn.Id, roomName)
		}
		if err != nil {
			h.sendError(s, message.Event, roomName, err)
			return err
		}

	case types.EventLeaveRoom:
		roomName, err := decodeRoom(message.Data)
		if err == nil {
			err = h.Registry.Leave(s.Conn.Id, roomName)
		}
		if err != nil {
			h.sendError(s, message.Event, roomName, err)
			return err
		}

	case types.EventSendMessage:
		req := types.SendMessageRequest{}
		err := decodePayload(message.Data, &req)
		if err == nil {
			if req.Author != "" && req.Author != s.Conn.User.Nick {
				globals.AppLogger.Debug("ignoring author field", "author", req.Author, "nick", s.Conn.User.Nick)
			}
			_, err = h.SendMessage(ctx, s.Conn, req.Room, req.Message)
		}
		if err != nil {
			h.sendError(s, message.Event, req.Room, err)
			return err
		}

	case types.EventTyping:
		req := types.TypingRequest{}
		err := decodePayload(message.Data, &req)
		if err == nil && strings.TrimSpace(req.Room) == "" {
			err = fmt.Errorf("%w: room is required", ErrMalformedMessage)
		}
		if err != nil {
			h.sendError(s, message.Event, req.Room, err)
			return err
		}
		if s.typing != nil && !s.typing.Allow() {
			globals.AppLogger.Trace("dropping typing event", "connection", s.Conn.Id, "room", req.Room)
			return nil
		}
		h.NotifyTyping(req.Room, s.Conn.User.Nick, s.Conn.Id)

	default:
		err := fmt.Errorf("%w: %q", ErrUnknownEvent, message.Event)
		h.sendError(s, message.Event, "", err)
		return err
	}
	return nil
}

// sendError reports a failed request to the session's connection only.
func (h *Hub) sendError(s *Session, event, roomName string, err error) {
	frame, encErr := types.EncodeWireMessage(types.EventError, types.ErrorMessage{
		Event:   event,
		Room:    roomName,
		Message: err.Error(),
	})
	if encErr != nil {
		globals.AppLogger.Error("could not encode error message", "error", encErr)
		return
	}
	if err := s.Conn.Deliver(frame); err != nil {
		globals.AppLogger.Debug("could not deliver error message", "connection", s.Conn.Id, "error", err)
	}
}

// decodePayload decodes the event data weakly, so f.e. numbers sent as strings are accepted.
func decodePayload(data json.RawMessage, target interface{}) error {
	payload := make(map[string]interface{})
	err := json.Unmarshal(data, &payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	err = mapstructure.WeakDecode(payload, target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// decodeRoom accepts the room either as a plain string or as {"room": "..."}.
func decodeRoom(data json.RawMessage) (string, error) {
	var roomName string
	if err := json.Unmarshal(data, &roomName); err != nil {
		req := types.RoomRequest{}
		if err := decodePayload(data, &req); err != nil {
			return "", err
		}
		roomName = req.Room
	}
	if strings.TrimSpace(roomName) == "" {
		return "", fmt.Errorf("%w: room is required", ErrMalformedMessage)
	}
	return roomName, nil
}
