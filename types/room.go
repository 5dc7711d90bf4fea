package types

// RoomInfo describes the live state of a room.
type RoomInfo struct {
	Name          string `json:"name"`
	NoConnections int    `json:"no_connections"`
}
