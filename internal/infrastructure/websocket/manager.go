package websocket

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	sendBufferSize = 256
)

// ErrClosed ends Run when the client was closed from our side.
var ErrClosed = errors.New("websocket client closed")

// Client is one websocket connection of a user.
type Client struct {
	UserID string
	Conn   *websocket.Conn

	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		Conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// Send queues a frame for the write pump. A client that cannot keep up is closed rather
// than allowed to stall the listener feeding it.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.closed:
		return false
	default:
		log.Printf("websocket: send buffer full for user %s, closing connection", c.UserID)
		c.Close()
		return false
	}
}

func (c *Client) Close() {
	c.once.Do(func() { close(c.closed) })
}

func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Run pumps frames in both directions until the peer goes away, the client is closed or
// ctx ends. onFrame is called from the read pump, one frame at a time.
func (c *Client) Run(ctx context.Context, onFrame func([]byte)) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.readPump(onFrame)
	})
	g.Go(func() error {
		return c.writePump(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		c.Close()
		_ = c.Conn.Close()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, ErrClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func (c *Client) readPump(onFrame func([]byte)) error {
	c.Conn.SetReadLimit(maxFrameSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return ErrClosed
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket: read from user %s: %v", c.UserID, err)
			}
			return err
		}
		onFrame(message)
	}
}

func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.writeClose()
			return ctx.Err()

		case <-c.closed:
			c.writeClose()
			return ErrClosed

		case message := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("websocket: write to user %s: %v", c.UserID, err)
				return err
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *Client) writeClose() {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Manager indexes the open connections of every user.
type Manager struct {
	clients map[string]map[*Client]struct{}
	mutex   sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (m *Manager) Register(client *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	conns, ok := m.clients[client.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		m.clients[client.UserID] = conns
	}
	conns[client] = struct{}{}
	log.Printf("Client registered: %s (%d connections)", client.UserID, len(conns))
}

func (m *Manager) Unregister(client *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	conns, ok := m.clients[client.UserID]
	if !ok {
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(m.clients, client.UserID)
	}
	log.Printf("Client unregistered: %s", client.UserID)
}

// SendToUser queues frame on every connection of the user and reports how many took it.
func (m *Manager) SendToUser(userID string, frame []byte) int {
	m.mutex.RLock()
	targets := make([]*Client, 0, len(m.clients[userID]))
	for c := range m.clients[userID] {
		targets = append(targets, c)
	}
	m.mutex.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.Send(frame) {
			sent++
		}
	}
	return sent
}

func (m *Manager) Connections(userID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID])
}

// CloseAll closes every connection, used on shutdown.
func (m *Manager) CloseAll() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, conns := range m.clients {
		for c := range conns {
			c.Close()
		}
	}
}
