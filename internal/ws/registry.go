// Package ws mantiene el registro de conexiones websocket vivas por usuario.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn es la vista mínima de una conexión que necesita el registro. El
// registro guarda una referencia no-propietaria: el ciclo de vida de la
// conexión lo maneja el read-loop dueño.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
}

// Registry mapea identidad de usuario al conjunto de sus conexiones vivas.
// Existe exactamente una instancia por proceso, construida en el arranque y
// pasada por referencia a cada handler; no sobrevive reinicios.
type Registry struct {
	mu    sync.Mutex
	conns map[string][]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string][]Conn)}
}

// Connect registra la conexión bajo userID. Debe llamarse antes de reconocer
// el handshake al cliente para que ningún envío encuentre la conexión sin
// registrar.
func (r *Registry) Connect(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[userID] = append(r.conns[userID], conn)
}

// Disconnect quita la conexión; si era la última del usuario elimina la
// entrada completa. Es idempotente: desconectar una conexión ya removida no
// hace nada.
func (r *Registry) Disconnect(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.conns[userID]
	for i, c := range conns {
		if c == conn {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(r.conns, userID)
		return
	}
	r.conns[userID] = conns
}

// SendToUser serializa message una sola vez e intenta entregarlo a todas las
// conexiones del usuario. Una falla de envío se traga por conexión: no aborta
// la entrega al resto ni desconecta implícitamente.
func (r *Registry) SendToUser(userID string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns[userID] {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	return nil
}

// Connections devuelve cuántas conexiones vivas tiene el usuario.
func (r *Registry) Connections(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID])
}
