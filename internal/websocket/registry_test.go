package websocket

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// mockConn is an in-memory interfaces.Connection.
type mockConn struct {
	id     string
	user   types.UserSummary
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newMockConn(id, userID string) *mockConn {
	return &mockConn{id: id, user: types.UserSummary{ID: userID, FullName: "User " + userID}}
}

func (m *mockConn) ID() string              { return m.id }
func (m *mockConn) User() types.UserSummary { return m.user }

func (m *mockConn) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrConnectionClosed
	}
	m.frames = append(m.frames, frame)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func connIDs[T interface{ ID() string }](conns []T) []string {
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID())
	}
	sort.Strings(ids)
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func inRoom(r *Registry, connID, roomID string) bool {
	for _, room := range roomsOf(r, connID) {
		if room == roomID {
			return true
		}
	}
	return false
}

func roomsOf(r *Registry, connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.connections[connID]
	if !ok {
		return nil
	}
	return entry.Rooms()
}

func TestRegistry_RegisterFirstForUser(t *testing.T) {
	r := NewRegistry()

	first, err := r.Register(newMockConn("c1", "alice"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !first {
		t.Error("First connection of a user should report firstForUser")
	}

	first, err = r.Register(newMockConn("c2", "alice"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if first {
		t.Error("Second device should not report firstForUser")
	}

	if got := connIDs(r.UserConnections("alice")); !equalStrings(got, []string{"c1", "c2"}) {
		t.Errorf("Expected alice on c1,c2, got %v", got)
	}
}

func TestRegistry_RegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	conn := newMockConn("c1", "alice")

	if _, err := r.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	r.JoinRoom("c1", "class-1")

	first, err := r.Register(conn)
	if err != nil {
		t.Fatalf("Second Register failed: %v", err)
	}
	if first {
		t.Error("Re-registering should not report firstForUser")
	}
	if stats := r.GetStats(); stats["total_connections"] != 1 {
		t.Errorf("Expected 1 connection, got %d", stats["total_connections"])
	}
	if !inRoom(r, "c1", "class-1") {
		t.Error("Re-registering should keep existing room membership")
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Register(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
	if _, err := r.Register(newMockConn("c1", "")); err != ErrEmptyUserID {
		t.Errorf("Expected ErrEmptyUserID, got %v", err)
	}
}

func TestRegistry_PersonalRoomAutoJoin(t *testing.T) {
	r := NewRegistry()
	r.Register(newMockConn("c1", "alice"))
	r.Register(newMockConn("c2", "alice"))

	room := types.PersonalRoom("alice")
	if got := connIDs(r.RoomConnections(room)); !equalStrings(got, []string{"c1", "c2"}) {
		t.Errorf("Expected both devices in %s, got %v", room, got)
	}
	if rooms := roomsOf(r, "c1"); !equalStrings(rooms, []string{room}) {
		t.Errorf("Expected c1 rooms [%s], got %v", room, rooms)
	}
}

func TestRegistry_UnregisterLastForUser(t *testing.T) {
	r := NewRegistry()
	r.Register(newMockConn("c1", "alice"))
	r.Register(newMockConn("c2", "alice"))
	r.JoinRoom("c1", "class-1")

	entry, last := r.Unregister("c1")
	if entry == nil {
		t.Fatal("Expected entry for c1")
	}
	if entry.UserID != "alice" || entry.ConnectionID != "c1" {
		t.Errorf("Unexpected entry %+v", entry)
	}
	if last {
		t.Error("alice still has c2, should not be last")
	}
	if !r.IsOnline("alice") {
		t.Error("alice should still be online")
	}
	if len(r.RoomConnections("class-1")) != 0 {
		t.Error("c1 should be removed from class-1")
	}

	_, last = r.Unregister("c2")
	if !last {
		t.Error("Removing c2 should report lastForUser")
	}
	if r.IsOnline("alice") {
		t.Error("alice should be offline")
	}

	stats := r.GetStats()
	if stats["total_connections"] != 0 || stats["online_users"] != 0 || stats["active_rooms"] != 0 {
		t.Errorf("Expected empty registry, got %v", stats)
	}
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	r := NewRegistry()

	entry, last := r.Unregister("missing")
	if entry != nil || last {
		t.Errorf("Unregister of unknown id should be a no-op, got %v, %v", entry, last)
	}
}

func TestRegistry_JoinLeave(t *testing.T) {
	r := NewRegistry()
	r.Register(newMockConn("c1", "alice"))

	tests := []struct {
		name string
		op   func() bool
		want bool
	}{
		{"join", func() bool { return r.JoinRoom("c1", "room") }, true},
		{"join again", func() bool { return r.JoinRoom("c1", "room") }, false},
		{"leave", func() bool { return r.LeaveRoom("c1", "room") }, true},
		{"leave again", func() bool { return r.LeaveRoom("c1", "room") }, false},
		{"join unknown conn", func() bool { return r.JoinRoom("nope", "room") }, false},
		{"leave unknown conn", func() bool { return r.LeaveRoom("nope", "room") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op(); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	if len(r.RoomConnections("room")) != 0 {
		t.Error("room should be empty")
	}
}

func TestRegistry_ListOnline(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	r.Register(newMockConn("b1", "bob"))
	r.Register(newMockConn("a1", "alice"))
	r.Register(newMockConn("a2", "alice"))

	online := r.ListOnline()
	if len(online) != 2 {
		t.Fatalf("Expected 2 online users, got %d", len(online))
	}
	if online[0].ID != "alice" || online[1].ID != "bob" {
		t.Errorf("Expected sorted [alice bob], got [%s %s]", online[0].ID, online[1].ID)
	}
	if online[0].Connections != 2 {
		t.Errorf("Expected alice to have 2 connections, got %d", online[0].Connections)
	}
	if !online[0].ConnectedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Expected alice's earliest connection time, got %v", online[0].ConnectedAt)
	}
	if online[0].FullName != "User alice" {
		t.Errorf("Expected summary to be carried, got %q", online[0].FullName)
	}
}

func TestRegistry_AllConnectionsAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(newMockConn("c1", "alice"))
	r.Register(newMockConn("c2", "bob"))

	if got := connIDs(r.AllConnections()); !equalStrings(got, []string{"c1", "c2"}) {
		t.Errorf("Expected c1,c2 got %v", got)
	}

	conn, ok := r.GetConnection("c2")
	if !ok || conn.User().ID != "bob" {
		t.Error("GetConnection should find c2")
	}
	if _, ok := r.GetConnection("c3"); ok {
		t.Error("GetConnection should miss unknown ids")
	}
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id := fmt.Sprintf("c%d", i)
			r.Register(newMockConn(id, fmt.Sprintf("u%d", i%10)))
			r.JoinRoom(id, "lobby")
			if i%3 == 0 {
				r.Unregister(id)
			}
		}
	}()

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = r.ListOnline()
				_ = r.RoomConnections("lobby")
				_ = r.IsOnline("u1")
				_ = r.GetStats()
			}
		}()
	}

	wg.Wait()

	if got := r.GetStats()["total_connections"]; got != 133 {
		t.Errorf("Expected 133 live connections, got %d", got)
	}
}
