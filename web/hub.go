package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fusion-engine-go/monitoring"
	"fusion-engine-go/server"
)

const (
	socketBufferSize  = 1024
	messageBufferSize = 64
	writeWait         = 5 * time.Second
)

var upgrader = &websocket.Upgrader{
	ReadBufferSize:  socketBufferSize,
	WriteBufferSize: socketBufferSize,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans fused positions out to websocket clients. Slow clients miss
// messages instead of stalling the fusion loop.
type Hub struct {
	// forward holds messages for every client.
	forward chan []byte
	join    chan *client
	leave   chan *client
	clients map[*client]bool
	done    chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		forward: make(chan []byte, messageBufferSize),
		join:    make(chan *client),
		leave:   make(chan *client),
		clients: make(map[*client]bool),
		done:    make(chan struct{}),
	}
}

// Run serves joins, leaves and broadcasts until Stop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.join:
			h.clients[c] = true
			monitoring.Logf("web: client joined (%d total)", len(h.clients))
		case c := <-h.leave:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				monitoring.Logf("web: client left (%d total)", len(h.clients))
			}
		case msg := <-h.forward:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
				}
			}
		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

func (h *Hub) Stop() { close(h.done) }

// Broadcast queues msg for every client. It drops msg when the hub is
// backed up.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.forward <- msg:
	default:
	}
}

// Publish broadcasts a fused position as JSON.
func (h *Hub) Publish(u server.Update) {
	b, err := json.Marshal(u)
	if err != nil {
		monitoring.Logf("web: marshal update: %v", err)
		return
	}
	h.Broadcast(b)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		monitoring.Logf("web: upgrade: %v", err)
		return
	}
	c := &client{
		socket: socket,
		send:   make(chan []byte, messageBufferSize),
	}
	select {
	case h.join <- c:
	case <-h.done:
		socket.Close()
		return
	}
	go c.write()
	c.read()
	select {
	case h.leave <- c:
	case <-h.done:
	}
}

type client struct {
	socket *websocket.Conn
	send   chan []byte
}

// read drains control frames until the peer goes away.
func (c *client) read() {
	defer c.socket.Close()
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) write() {
	defer c.socket.Close()
	for msg := range c.send {
		c.socket.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
