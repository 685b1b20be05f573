package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	writeErr error
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	c.messages = append(c.messages, copied)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func TestRegistryConnectDisconnect(t *testing.T) {
	t.Run("conectar y desconectar deja cero conexiones", func(t *testing.T) {
		r := NewRegistry()
		conn := &fakeConn{}

		r.Connect("u1", conn)
		if got := r.Connections("u1"); got != 1 {
			t.Fatalf("expected 1 connection, got %d", got)
		}

		r.Disconnect("u1", conn)
		if got := r.Connections("u1"); got != 0 {
			t.Fatalf("expected 0 connections, got %d", got)
		}

		if err := r.SendToUser("u1", map[string]string{"type": "end"}); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if conn.count() != 0 {
			t.Fatalf("expected no deliveries after disconnect, got %d", conn.count())
		}
	})

	t.Run("desconectar dos veces no falla", func(t *testing.T) {
		r := NewRegistry()
		conn := &fakeConn{}

		r.Connect("u1", conn)
		r.Disconnect("u1", conn)
		r.Disconnect("u1", conn)

		if got := r.Connections("u1"); got != 0 {
			t.Fatalf("expected 0 connections, got %d", got)
		}
	})

	t.Run("varias conexiones por usuario", func(t *testing.T) {
		r := NewRegistry()
		c1, c2 := &fakeConn{}, &fakeConn{}

		r.Connect("u1", c1)
		r.Connect("u1", c2)
		if got := r.Connections("u1"); got != 2 {
			t.Fatalf("expected 2 connections, got %d", got)
		}

		r.Disconnect("u1", c1)
		if got := r.Connections("u1"); got != 1 {
			t.Fatalf("expected 1 connection, got %d", got)
		}
	})
}

func TestRegistrySendToUser(t *testing.T) {
	t.Run("entrega a todas las conexiones del usuario", func(t *testing.T) {
		r := NewRegistry()
		c1, c2, other := &fakeConn{}, &fakeConn{}, &fakeConn{}

		r.Connect("u1", c1)
		r.Connect("u1", c2)
		r.Connect("u2", other)

		payload := map[string]string{"type": "token", "content": "hola"}
		if err := r.SendToUser("u1", payload); err != nil {
			t.Fatalf("send failed: %v", err)
		}

		if c1.count() != 1 || c2.count() != 1 {
			t.Fatalf("expected delivery to both, got %d and %d", c1.count(), c2.count())
		}
		if other.count() != 0 {
			t.Fatalf("expected no delivery to another user, got %d", other.count())
		}

		var decoded map[string]string
		if err := json.Unmarshal(c1.messages[0], &decoded); err != nil {
			t.Fatalf("unmarshal delivered message: %v", err)
		}
		if decoded["content"] != "hola" {
			t.Fatalf("unexpected payload: %v", decoded)
		}
	})

	t.Run("una conexion muerta no afecta al resto", func(t *testing.T) {
		r := NewRegistry()
		dead := &fakeConn{writeErr: errors.New("broken pipe")}
		alive := &fakeConn{}

		r.Connect("u1", dead)
		r.Connect("u1", alive)

		if err := r.SendToUser("u1", map[string]string{"type": "end"}); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if alive.count() != 1 {
			t.Fatalf("expected delivery to live connection, got %d", alive.count())
		}
		// La conexion muerta sigue registrada: la desconexion la maneja su read-loop.
		if got := r.Connections("u1"); got != 2 {
			t.Fatalf("expected 2 registered connections, got %d", got)
		}
	})
}
