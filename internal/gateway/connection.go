package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/log"
)

// Connection wraps one WebSocket connection with its outbound queue and
// lifecycle. It implements registry.Peer: Deliver enqueues without blocking.
type Connection struct {
	// WebSocket connection
	conn *websocket.Conn

	// User ID from JWT
	userID string

	// Buffered channel of outbound messages
	send chan []byte

	// Configuration
	pongWait       time.Duration
	pingPeriod     time.Duration
	writeWait      time.Duration
	maxMessageSize int64

	// inbound handles a client frame; nil means frames are drained and ignored
	inbound func(ctx context.Context, payload []byte)

	// teardown detaches the connection from every group it joined; runs once
	teardown func()

	// Logger
	logger log.Logger

	// Done signal
	done      chan struct{}
	closeOnce sync.Once
	tearOnce  sync.Once
}

// NewConnection creates a new Connection instance
func NewConnection(
	conn *websocket.Conn,
	userID string,
	config WSConfig,
	inbound func(ctx context.Context, payload []byte),
	teardown func(),
	logger log.Logger,
) *Connection {
	return &Connection{
		conn:           conn,
		userID:         userID,
		send:           make(chan []byte, 256),
		pongWait:       config.PongWait,
		pingPeriod:     config.PingPeriod,
		writeWait:      config.WriteWait,
		maxMessageSize: config.MaxMessageSize,
		inbound:        inbound,
		teardown:       teardown,
		logger:         logger,
		done:           make(chan struct{}),
	}
}

// Deliver enqueues an outbound payload. It reports false when the connection
// is closing or its buffer is full; the frame is dropped, never waited on.
func (c *Connection) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// readPump pumps messages from the WebSocket connection to the inbound handler
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Connection) readPump() {
	defer c.Close()

	// Set read deadline for pong messages
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	// Set pong handler
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	// Set max message size
	c.conn.SetReadLimit(c.maxMessageSize)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Errorf(context.Background(), "WebSocket read error for user %s: %v", c.userID, err)
			}
			break
		}

		if c.inbound == nil {
			// Presence connections carry no client frames; the read loop only
			// detects disconnects and answers pings.
			c.logger.Debugf(context.Background(), "Ignoring frame from user %s", c.userID)
			continue
		}

		c.inbound(context.Background(), message)
	}
}

// writePump pumps messages from the outbound queue to the WebSocket connection
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			// Set write deadline
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))

			// One JSON envelope per frame; clients parse frames whole.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping message
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// Start starts the connection's read and write pumps
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection and runs its teardown exactly once. Safe to
// call from any goroutine and from multiple paths concurrently.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	c.tearOnce.Do(func() {
		if c.teardown != nil {
			c.teardown()
		}
	})
}
