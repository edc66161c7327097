package control

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/call-voice-lab/internal/call"
	"github.com/call-voice-lab/internal/logging"
)

// Bridge fans session notifications out to websocket observers. Each client
// gets a buffered outbound queue; a client that cannot keep up loses
// messages rather than stalling the session loop.
type Bridge struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	out  chan []byte
}

func NewBridge() *Bridge {
	return &Bridge{clients: make(map[*client]struct{})}
}

// Notify implements the session subscriber callback. It must not block.
func (b *Bridge) Notify(n call.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		logging.Errorw("bridge: marshal notification", "err", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.out <- data:
		default:
			logging.Warnw("bridge: dropping notification; client queue full", "kind", n.Kind)
		}
	}
}

// HandleWS upgrades an observer connection and streams notifications until
// the peer goes away.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("bridge: ws upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, out: make(chan []byte, 64)}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	n := len(b.clients)
	b.mu.Unlock()
	logging.Infow("bridge: observer connected", "clients", n)

	go b.writeLoop(c)
	go b.readLoop(c)
}

func (b *Bridge) writeLoop(c *client) {
	for data := range c.out {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.drop(c)
			return
		}
	}
}

// readLoop discards inbound frames; its job is noticing the close.
func (b *Bridge) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			b.drop(c)
			return
		}
	}
}

func (b *Bridge) drop(c *client) {
	b.mu.Lock()
	_, present := b.clients[c]
	delete(b.clients, c)
	b.mu.Unlock()
	if present {
		close(c.out)
		_ = c.conn.Close()
		logging.Infow("bridge: observer disconnected")
	}
}

// Close disconnects every observer.
func (b *Bridge) Close() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[*client]struct{})
	b.mu.Unlock()
	for _, c := range clients {
		close(c.out)
		_ = c.conn.Close()
	}
}
