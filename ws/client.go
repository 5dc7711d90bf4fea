package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/room"
	"github.com/tcriess/lightspeed-rooms/types"
)

const sendChannelSize = 1000

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. It is never closed, writers check done instead.
	send chan []byte

	// set by Serve once the client is registered. closed records a Close which happened before that, so the
	// registration can be undone by Serve.
	session *Session
	closed  bool
	sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendChannelSize),
		done: make(chan struct{}),
	}
}

// Deliver queues a frame for the write loop. It fails instead of blocking if the buffer is full or the client is
// closing.
func (c *Client) Deliver(data []byte) error {
	select {
	case <-c.done:
		return room.ErrDeliveryFailure
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return room.ErrDeliveryFailure
	}
}

// Close unregisters the client and closes the websocket connection. It does not wait for running broadcasts.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.Lock()
		c.closed = true
		session := c.session
		c.Unlock()
		if session != nil {
			c.hub.Close(session)
		}
		err = c.conn.Close()
	})
	return err
}

// Serve registers the client for the user and runs the read and write loops. It returns when the connection is
// gone.
func (c *Client) Serve(ctx context.Context, user types.User) error {
	session, err := c.hub.Open(user, c)
	if err != nil {
		c.conn.Close()
		return err
	}
	c.Lock()
	c.session = session
	closed := c.closed
	c.Unlock()
	if closed {
		c.hub.Close(session)
		return nil
	}
	go c.WriteLoop()
	c.ReadLoop(ctx)
	return nil
}

// ReadLoop pumps messages from the websocket connection to the hub.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop(ctx context.Context) {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				globals.AppLogger.Info("ws closed unexpectedly", "connection", c.session.Conn.Id, "error", err)
			}
			return
		}
		err = c.hub.HandleEvent(ctx, c.session, raw)
		if err != nil {
			globals.AppLogger.Debug("could not handle event", "connection", c.session.Conn.Id, "error", err)
		}
	}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				globals.AppLogger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				globals.AppLogger.Debug("could not send ping message, exiting write loop")
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
