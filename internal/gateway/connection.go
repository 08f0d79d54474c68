package gateway

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/romashorodok/room-coordinator/internal/identity"
	"github.com/romashorodok/room-coordinator/pkg/protocol"
	"github.com/romashorodok/room-coordinator/pkg/wsutils"
	"go.uber.org/atomic"
)

var ErrConnectionClosed = errors.New("connection closed")

// Connection is one client socket. Reads happen on the serving goroutine;
// writes may come from any goroutine through the thread safe writer.
type Connection struct {
	id      string
	userID  string
	channel string
	token   *identity.TokenContext
	w       *wsutils.ThreadSafeWriter

	closed      *atomic.Bool
	refreshedAt time.Time

	mu    sync.Mutex
	rooms map[string]struct{}
}

func newConnection(id, channel string, token *identity.TokenContext, w *wsutils.ThreadSafeWriter) *Connection {
	return &Connection{
		id:      id,
		userID:  token.UserID,
		channel: channel,
		token:   token,
		w:       w,
		closed:  atomic.NewBool(false),
		rooms:   make(map[string]struct{}),
	}
}

func (c *Connection) ID() string      { return c.id }
func (c *Connection) UserID() string  { return c.userID }
func (c *Connection) Channel() string { return c.channel }

func (c *Connection) send(event, ref string, data any) error {
	payload, err := protocol.Encode(event, ref, data)
	if err != nil {
		return err
	}
	return c.writeRaw(payload)
}

func (c *Connection) writeRaw(payload []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.w.WriteRaw(payload)
}

// close is safe to call more than once; only the first call writes the
// close frame.
func (c *Connection) close(code int, reason string) {
	if !c.closed.CAS(false, true) {
		return
	}
	_ = c.w.CloseWith(code, reason)
}

func (c *Connection) addRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

func (c *Connection) removeRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

func (c *Connection) takeRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		result = append(result, roomID)
	}
	c.rooms = make(map[string]struct{})
	sort.Strings(result)
	return result
}

func (c *Connection) roomIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		result = append(result, roomID)
	}
	sort.Strings(result)
	return result
}

func (c *Connection) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exist := c.rooms[roomID]
	return exist
}
