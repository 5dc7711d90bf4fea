package room

import (
	"errors"
	"sort"
	"sync"

	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
)

var (
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrDeliveryFailure is returned by a Sink which could not accept a frame. It only ever affects a single
	// recipient.
	ErrDeliveryFailure = errors.New("delivery failure")
)

// Sink is the outbound side of a live connection.
type Sink interface {
	// Deliver hands an encoded frame to the connection. It must not block.
	Deliver(data []byte) error
	Close() error
}

// Connection is one registered real-time connection.
type Connection struct {
	Id   string
	User types.User

	sink  Sink
	rooms map[string]struct{} // guarded by the registry lock
}

func (c *Connection) Deliver(data []byte) error {
	return c.sink.Deliver(data)
}

func (c *Connection) Close() error {
	return c.sink.Close()
}

// Registry tracks all live connections and the rooms they joined. Rooms exist only as long as they have
// members.
type Registry struct {
	connections map[string]*Connection
	rooms       map[string]map[string]*Connection

	sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
	}
}

// Register creates a new connection entry.
func (r *Registry) Register(id string, user types.User, sink Sink) (*Connection, error) {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.connections[id]; ok {
		return nil, ErrDuplicateConnection
	}
	conn := &Connection{
		Id:    id,
		User:  user,
		sink:  sink,
		rooms: make(map[string]struct{}),
	}
	r.connections[id] = conn
	globals.AppLogger.Debug("registered connection", "connection", id, "user", user.Nick)
	return conn, nil
}

// Join adds the connection to the room. Joining a room twice is a no-op.
func (r *Registry) Join(id, roomName string) error {
	r.Lock()
	defer r.Unlock()
	conn, ok := r.connections[id]
	if !ok {
		return ErrUnknownConnection
	}
	if _, ok := conn.rooms[roomName]; ok {
		return nil
	}
	members, ok := r.rooms[roomName]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[roomName] = members
	}
	members[id] = conn
	conn.rooms[roomName] = struct{}{}
	globals.AppLogger.Debug("joined room", "connection", id, "room", roomName)
	return nil
}

// Leave removes the connection from the room. It is a no-op if the connection is not a member or not
// registered at all (leave may race a disconnect).
func (r *Registry) Leave(id, roomName string) error {
	r.Lock()
	defer r.Unlock()
	conn, ok := r.connections[id]
	if !ok {
		return nil
	}
	r.leave(conn, roomName)
	return nil
}

// leave expects the write lock to be held.
func (r *Registry) leave(conn *Connection, roomName string) {
	if _, ok := conn.rooms[roomName]; !ok {
		return
	}
	delete(conn.rooms, roomName)
	if members, ok := r.rooms[roomName]; ok {
		delete(members, conn.Id)
		if len(members) == 0 {
			delete(r.rooms, roomName)
		}
	}
	globals.AppLogger.Debug("left room", "connection", conn.Id, "room", roomName)
}

// Unregister removes the connection from all rooms and forgets it. It reports whether the connection was
// still registered, calling it again is a no-op.
func (r *Registry) Unregister(id string) bool {
	r.Lock()
	defer r.Unlock()
	conn, ok := r.connections[id]
	if !ok {
		return false
	}
	for roomName := range conn.rooms {
		r.leave(conn, roomName)
	}
	delete(r.connections, id)
	globals.AppLogger.Debug("unregistered connection", "connection", id)
	return true
}

// MembersOf returns a sorted snapshot of the connection ids currently joined to the room. The snapshot may be
// stale as soon as it is returned.
func (r *Registry) MembersOf(roomName string) []string {
	r.RLock()
	defer r.RUnlock()
	members := r.rooms[roomName]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Recipients returns a snapshot of the connections currently joined to the room.
func (r *Registry) Recipients(roomName string) []*Connection {
	r.RLock()
	defer r.RUnlock()
	members := r.rooms[roomName]
	conns := make([]*Connection, 0, len(members))
	for _, conn := range members {
		conns = append(conns, conn)
	}
	return conns
}

func (r *Registry) Lookup(id string) (*Connection, bool) {
	r.RLock()
	defer r.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// Rooms returns the sorted names of the rooms the connection joined.
func (r *Registry) Rooms(id string) ([]string, error) {
	r.RLock()
	defer r.RUnlock()
	conn, ok := r.connections[id]
	if !ok {
		return nil, ErrUnknownConnection
	}
	names := make([]string, 0, len(conn.rooms))
	for roomName := range conn.rooms {
		names = append(names, roomName)
	}
	sort.Strings(names)
	return names, nil
}

// All returns a snapshot of all registered connections.
func (r *Registry) All() []*Connection {
	r.RLock()
	defer r.RUnlock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// RoomInfos returns the member count of every non-empty room, sorted by name.
func (r *Registry) RoomInfos() []types.RoomInfo {
	r.RLock()
	defer r.RUnlock()
	infos := make([]types.RoomInfo, 0, len(r.rooms))
	for name, members := range r.rooms {
		infos = append(infos, types.RoomInfo{Name: name, NoConnections: len(members)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Stats returns the number of registered connections and non-empty rooms.
func (r *Registry) Stats() (connections, rooms int) {
	r.RLock()
	defer r.RUnlock()
	return len(r.connections), len(r.rooms)
}
