package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait is how long to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Microphone frames are a few
	// KB; anything bigger is a misbehaving client.
	maxMessageSize = 64 * 1024
)

// Inbound receives frames the client sends up: binary microphone audio and
// JSON control messages. Called on the read pump goroutine.
type Inbound interface {
	// OnBinary handles one binary frame.
	OnBinary(data []byte)

	// OnText handles one text frame.
	OnText(data []byte)
}

// Client is one widget websocket connection attached to a session hub.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	inbound Inbound
	send    chan Message
}

// NewClient registers a connection with the hub. inbound may be nil when the
// client is view-only.
func NewClient(hub *Hub, conn *websocket.Conn, inbound Inbound) *Client {
	client := &Client{
		hub:     hub,
		conn:    conn,
		inbound: inbound,
		send:    make(chan Message, 256),
	}
	hub.register <- client
	return client
}

// Run starts the write pump and blocks on the read pump until the connection
// closes. Call from the websocket handler.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump routes inbound frames and detects disconnection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.inbound == nil {
			continue
		}
		switch msgType {
		case websocket.BinaryMessage:
			c.inbound.OnBinary(data)
		case websocket.TextMessage:
			c.inbound.OnText(data)
		}
	}
}

// writePump is the only goroutine that writes to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wsType := websocket.TextMessage
			if message.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(wsType, message.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
