package gateway

import (
	"sort"
	"sync"

	"go.uber.org/atomic"
)

// Stats is a point-in-time view of the hub counters.
type Stats struct {
	Connections int64 `json:"connections"`
	Rooms       int   `json:"rooms"`
	FramesIn    int64 `json:"framesIn"`
	FramesOut   int64 `json:"framesOut"`
	Relayed     int64 `json:"relayed"`
	Dropped     int64 `json:"dropped"`
}

// Hub tracks which local connections are members of which rooms. Its lock
// guards the maps only; frames are written outside of it.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[string]map[string]*Connection

	connections *atomic.Int64
	framesIn    *atomic.Int64
	framesOut   *atomic.Int64
	relayed     *atomic.Int64
	dropped     *atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		conns:       make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		connections: atomic.NewInt64(0),
		framesIn:    atomic.NewInt64(0),
		framesOut:   atomic.NewInt64(0),
		relayed:     atomic.NewInt64(0),
		dropped:     atomic.NewInt64(0),
	}
}

func (h *Hub) Add(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exist := h.conns[conn.id]; exist {
		return
	}
	h.conns[conn.id] = conn
	h.connections.Inc()
}

// Remove drops conn from the hub and from every room it joined. It returns
// the rooms conn was a member of.
func (h *Hub) Remove(conn *Connection) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exist := h.conns[conn.id]; !exist {
		return nil
	}
	delete(h.conns, conn.id)
	h.connections.Dec()

	rooms := conn.takeRooms()
	for _, roomID := range rooms {
		h.leaveLocked(roomID, conn)
	}
	return rooms
}

func (h *Hub) Conn(connID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, exist := h.conns[connID]
	return conn, exist
}

func (h *Hub) Connections() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		result = append(result, conn)
	}
	return result
}

func (h *Hub) Join(roomID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, exist := h.rooms[roomID]
	if !exist {
		members = make(map[string]*Connection)
		h.rooms[roomID] = members
	}
	members[conn.id] = conn
	conn.addRoom(roomID)
}

// Leave reports whether conn was a member of roomID.
func (h *Hub) Leave(roomID string, conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.removeRoom(roomID)
	return h.leaveLocked(roomID, conn)
}

func (h *Hub) leaveLocked(roomID string, conn *Connection) bool {
	members, exist := h.rooms[roomID]
	if !exist {
		return false
	}
	if _, exist := members[conn.id]; !exist {
		return false
	}
	delete(members, conn.id)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
	return true
}

// Members returns the local connections in roomID ordered by id.
func (h *Hub) Members(roomID string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[roomID]
	result := make([]*Connection, 0, len(members))
	for _, conn := range members {
		result = append(result, conn)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].id < result[j].id })
	return result
}

// HasUser reports whether any local connection of userID is in roomID.
func (h *Hub) HasUser(roomID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.rooms[roomID] {
		if conn.userID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	rooms := len(h.rooms)
	h.mu.RUnlock()

	return Stats{
		Connections: h.connections.Load(),
		Rooms:       rooms,
		FramesIn:    h.framesIn.Load(),
		FramesOut:   h.framesOut.Load(),
		Relayed:     h.relayed.Load(),
		Dropped:     h.dropped.Load(),
	}
}
