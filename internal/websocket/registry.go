package websocket

import (
	"sort"
	"sync"
	"time"

	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// ConnectionEntry is the registry's record of one live connection.
type ConnectionEntry struct {
	ConnectionID string
	UserID       string
	User         types.UserSummary
	JoinedRooms  map[string]struct{}
	ConnectedAt  time.Time

	conn interfaces.Connection
}

// Rooms returns the joined rooms in sorted order.
func (e *ConnectionEntry) Rooms() []string {
	rooms := make([]string, 0, len(e.JoinedRooms))
	for room := range e.JoinedRooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Registry tracks live connections, the users behind them and their rooms.
// It performs no authorization. Mutations are expected from the hub
// goroutine only; the lock lets HTTP handlers read concurrently.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*ConnectionEntry                 // connID -> entry
	users       map[string]map[string]interfaces.Connection // userID -> connID -> conn
	rooms       map[string]map[string]interfaces.Connection // roomID -> connID -> conn
	now         func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*ConnectionEntry),
		users:       make(map[string]map[string]interfaces.Connection),
		rooms:       make(map[string]map[string]interfaces.Connection),
		now:         time.Now,
	}
}

// Register adds conn and joins it to its owner's personal room. It reports
// whether this is the user's first live connection. Registering the same
// connection id twice is a no-op.
func (r *Registry) Register(conn interfaces.Connection) (bool, error) {
	if conn == nil {
		return false, ErrNilConnection
	}
	user := conn.User()
	if user.ID == "" {
		return false, ErrEmptyUserID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	connID := conn.ID()
	if _, exists := r.connections[connID]; exists {
		return false, nil
	}

	entry := &ConnectionEntry{
		ConnectionID: connID,
		UserID:       user.ID,
		User:         user,
		JoinedRooms:  make(map[string]struct{}),
		ConnectedAt:  r.now(),
		conn:         conn,
	}
	r.connections[connID] = entry

	if r.users[user.ID] == nil {
		r.users[user.ID] = make(map[string]interfaces.Connection)
	}
	r.users[user.ID][connID] = conn
	first := len(r.users[user.ID]) == 1

	r.joinLocked(entry, types.PersonalRoom(user.ID))

	return first, nil
}

// Unregister removes a connection from every room and reports whether it was
// the user's last one. Unknown ids return a nil entry.
func (r *Registry) Unregister(connID string) (*ConnectionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.connections[connID]
	if !exists {
		return nil, false
	}
	delete(r.connections, connID)

	for room := range entry.JoinedRooms {
		r.removeFromRoomLocked(room, connID)
	}

	last := false
	if conns, ok := r.users[entry.UserID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.users, entry.UserID)
			last = true
		}
	}

	return entry, last
}

// JoinRoom reports whether the connection newly joined roomID.
func (r *Registry) JoinRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.connections[connID]
	if !exists {
		return false
	}
	return r.joinLocked(entry, roomID)
}

func (r *Registry) joinLocked(entry *ConnectionEntry, roomID string) bool {
	if _, joined := entry.JoinedRooms[roomID]; joined {
		return false
	}
	entry.JoinedRooms[roomID] = struct{}{}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]interfaces.Connection)
	}
	r.rooms[roomID][entry.ConnectionID] = entry.conn
	return true
}

// LeaveRoom reports whether the connection was a member of roomID.
func (r *Registry) LeaveRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.connections[connID]
	if !exists {
		return false
	}
	if _, joined := entry.JoinedRooms[roomID]; !joined {
		return false
	}
	delete(entry.JoinedRooms, roomID)
	r.removeFromRoomLocked(roomID, connID)
	return true
}

// removeFromRoomLocked drops empty room maps so they do not accumulate.
func (r *Registry) removeFromRoomLocked(roomID, connID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// GetConnection looks up a live connection by id.
func (r *Registry) GetConnection(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.connections[connID]
	if !exists {
		return nil, false
	}
	return entry.conn, true
}

func collect(conns map[string]interfaces.Connection) []interfaces.Connection {
	out := make([]interfaces.Connection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// UserConnections returns every live connection of userID.
func (r *Registry) UserConnections(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.users[userID])
}

// RoomConnections returns every connection joined to roomID.
func (r *Registry) RoomConnections(roomID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.rooms[roomID])
}

// AllConnections returns every live connection.
func (r *Registry) AllConnections() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Connection, 0, len(r.connections))
	for _, entry := range r.connections {
		out = append(out, entry.conn)
	}
	return out
}

// IsOnline reports whether userID holds at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// ListOnline returns one entry per online user, ordered by user id.
func (r *Registry) ListOnline() []types.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := make([]types.OnlineUser, 0, len(r.users))
	for userID, conns := range r.users {
		var user types.OnlineUser
		for connID := range conns {
			entry := r.connections[connID]
			if user.Connections == 0 || entry.ConnectedAt.Before(user.ConnectedAt) {
				user.UserSummary = entry.User
				user.ConnectedAt = entry.ConnectedAt
			}
			user.Connections++
		}
		user.ID = userID
		online = append(online, user)
	}

	sort.Slice(online, func(i, j int) bool { return online[i].ID < online[j].ID })
	return online
}

// GetStats returns registry counters for health reporting.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"online_users":      len(r.users),
		"active_rooms":      len(r.rooms),
	}
}
