package wsutils

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ThreadSafeWriter serialises writes on a gorilla connection, which allows
// one concurrent writer only. Reads stay on the owning goroutine.
type ThreadSafeWriter struct {
	*websocket.Conn
	sync.Mutex

	writeTimeout time.Duration
}

func (t *ThreadSafeWriter) deadline() time.Time {
	if t.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(t.writeTimeout)
}

func (t *ThreadSafeWriter) WriteJSON(val interface{}) error {
	t.Lock()
	defer t.Unlock()

	_ = t.Conn.SetWriteDeadline(t.deadline())
	return t.Conn.WriteJSON(val)
}

// WriteRaw sends an already encoded text frame.
func (t *ThreadSafeWriter) WriteRaw(data []byte) error {
	t.Lock()
	defer t.Unlock()

	_ = t.Conn.SetWriteDeadline(t.deadline())
	return t.Conn.WriteMessage(websocket.TextMessage, data)
}

func (t *ThreadSafeWriter) Ping() error {
	return t.Conn.WriteControl(websocket.PingMessage, nil, t.deadline())
}

// CloseWith sends a close frame carrying reason before closing the socket.
func (t *ThreadSafeWriter) CloseWith(code int, reason string) error {
	_ = t.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	return t.Conn.Close()
}

func (t *ThreadSafeWriter) Close() error {
	return t.Conn.Close()
}

func (t *ThreadSafeWriter) ReadJSON(val any) error {
	return t.Conn.ReadJSON(val)
}

func NewThreadSafeWriter(conn *websocket.Conn, writeTimeout time.Duration) *ThreadSafeWriter {
	return &ThreadSafeWriter{
		Conn:         conn,
		writeTimeout: writeTimeout,
	}
}
