package wsutils

import (
	"sync"

	"github.com/gorilla/websocket"

	"breakout-platform/pkg/protocol"
)

// ThreadSafeWriter serializes writes on a websocket connection. Reads stay
// single-consumer, as gorilla requires.
type ThreadSafeWriter struct {
	*websocket.Conn
	sync.Mutex
}

func (t *ThreadSafeWriter) WriteJSON(val any) error {
	t.Lock()
	defer t.Unlock()

	return t.Conn.WriteJSON(val)
}

func (t *ThreadSafeWriter) WriteEnvelope(env protocol.Envelope) error {
	return t.WriteJSON(&env)
}

func (t *ThreadSafeWriter) ReadEnvelope() (protocol.Envelope, error) {
	var env protocol.Envelope
	if err := t.Conn.ReadJSON(&env); err != nil {
		return protocol.Envelope{}, err
	}
	return env, nil
}

func (t *ThreadSafeWriter) Close() error {
	return t.Conn.Close()
}

func NewThreadSafeWriter(conn *websocket.Conn) *ThreadSafeWriter {
	return &ThreadSafeWriter{Conn: conn}
}
