// Package session tracks which live connections are viewing which workspace.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Member is one connection present in a workspace room.
type Member struct {
	JoinedAt     time.Time `json:"-"`
	ConnectionID string    `json:"connection_id"`
	DisplayName  string    `json:"display_name"`
}

// Manager owns room membership. A connection is in at most one room at a
// time; joining a new room leaves the previous one first.
type Manager struct {
	rooms    map[string]map[string]*Member
	roomOf   map[string]string
	onOpened func(string)
	onClosed func(string)
	mu       sync.RWMutex
}

// NewManager creates an empty membership manager.
func NewManager() *Manager {
	return &Manager{
		rooms:  make(map[string]map[string]*Member),
		roomOf: make(map[string]string),
	}
}

// SetOnRoomOpened sets a callback for when a workspace gets its first member.
func (m *Manager) SetOnRoomOpened(callback func(string)) {
	m.mu.Lock()
	m.onOpened = callback
	m.mu.Unlock()
}

// SetOnRoomClosed sets a callback for when a workspace loses its last member.
func (m *Manager) SetOnRoomClosed(callback func(string)) {
	m.mu.Lock()
	m.onClosed = callback
	m.mu.Unlock()
}

// JoinResult describes the effect of a Join.
type JoinResult struct {
	// Previous is the room the connection left, empty if none.
	Previous string
	// Others are the members already present, sorted by connection id.
	Others []Member
}

// Join places connID in workspaceID under displayName. Rejoining the same
// room only refreshes the display name.
func (m *Manager) Join(connID, workspaceID, displayName string) JoinResult {
	var (
		res            JoinResult
		opened, closed bool
	)

	m.mu.Lock()
	prev, had := m.roomOf[connID]
	if had && prev != workspaceID {
		closed = m.removeLocked(connID, prev)
		res.Previous = prev
	}

	room, ok := m.rooms[workspaceID]
	if !ok {
		room = make(map[string]*Member)
		m.rooms[workspaceID] = room
		opened = true
	}
	if existing, ok := room[connID]; ok {
		existing.DisplayName = displayName
	} else {
		room[connID] = &Member{ConnectionID: connID, DisplayName: displayName, JoinedAt: time.Now()}
	}
	m.roomOf[connID] = workspaceID
	res.Others = othersLocked(room, connID)
	onOpened, onClosed := m.onOpened, m.onClosed
	m.mu.Unlock()

	if closed && onClosed != nil {
		onClosed(prev)
	}
	if opened && onOpened != nil {
		onOpened(workspaceID)
	}

	log.Debug().
		Str("connectionId", connID).
		Str("workspaceId", workspaceID).
		Str("previous", res.Previous).
		Int("others", len(res.Others)).
		Msg("Connection joined workspace")

	return res
}

// Leave removes connID from workspaceID. Returns false if the connection
// was not in that room.
func (m *Manager) Leave(connID, workspaceID string) bool {
	m.mu.Lock()
	if m.roomOf[connID] != workspaceID {
		m.mu.Unlock()
		return false
	}
	closed := m.removeLocked(connID, workspaceID)
	onClosed := m.onClosed
	m.mu.Unlock()

	if closed && onClosed != nil {
		onClosed(workspaceID)
	}
	return true
}

// Disconnect removes connID from whatever room it is in and returns that
// room, or empty if it was in none.
func (m *Manager) Disconnect(connID string) string {
	m.mu.Lock()
	ws, ok := m.roomOf[connID]
	if !ok {
		m.mu.Unlock()
		return ""
	}
	closed := m.removeLocked(connID, ws)
	onClosed := m.onClosed
	m.mu.Unlock()

	if closed && onClosed != nil {
		onClosed(ws)
	}
	return ws
}

// removeLocked drops the connection and reports whether the room emptied.
// Caller must hold m.mu.
func (m *Manager) removeLocked(connID, workspaceID string) bool {
	delete(m.roomOf, connID)
	room, ok := m.rooms[workspaceID]
	if !ok {
		return false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(m.rooms, workspaceID)
		return true
	}
	return false
}

func othersLocked(room map[string]*Member, except string) []Member {
	out := make([]Member, 0, len(room))
	for id, member := range room {
		if id != except {
			out = append(out, *member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// RoomOf returns the workspace a connection is in.
func (m *Manager) RoomOf(connID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.roomOf[connID]
	return ws, ok
}

// Member returns the membership record of a connection.
func (m *Manager) Member(connID string) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.roomOf[connID]
	if !ok {
		return Member{}, false
	}
	return *m.rooms[ws][connID], true
}

// Members returns the members of a room sorted by connection id.
func (m *Manager) Members(workspaceID string) []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return othersLocked(m.rooms[workspaceID], "")
}

// MemberIDs returns the connection ids of a room, optionally excluding one.
func (m *Manager) MemberIDs(workspaceID, except string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room := m.rooms[workspaceID]
	out := make([]string, 0, len(room))
	for id := range room {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}

// ActiveRooms returns the workspaces with at least one member, sorted.
func (m *Manager) ActiveRooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.rooms))
	for ws := range m.rooms {
		out = append(out, ws)
	}
	sort.Strings(out)
	return out
}

// RoomCount returns the number of non-empty rooms.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// MemberCount returns the number of connections in any room.
func (m *Manager) MemberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.roomOf)
}
