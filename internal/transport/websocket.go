package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// WSClient receives live notifications over a WebSocket.
type WSClient struct {
	url    string
	token  string
	logger *events.Logger

	// Connection state
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// Channels
	messages chan models.Notification
	errors   chan error
	done     chan struct{}

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewWSClient creates a WebSocket client.
func NewWSClient(wsURL, token string, logger *events.Logger) *WSClient {
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[4:]
	}

	return &WSClient{
		url:          wsURL,
		token:        token,
		logger:       logger.WithField("component", "ws_client"),
		messages:     make(chan models.Notification, 100),
		errors:       make(chan error, 10),
		done:         make(chan struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
}

// Connect establishes WebSocket connection.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	target, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("parse websocket url: %w", err)
	}
	if c.token != "" {
		q := target.Query()
		q.Set("access_token", c.token)
		target.RawQuery = q.Encode()
	}

	c.logger.WithField("host", target.Host).Info("Connecting to notifications")

	headers := http.Header{}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, target.String(), headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connect failed: %w", err)
	}

	c.conn = conn
	c.closed = false

	go c.readLoop(conn)
	go c.pingLoop()

	c.logger.Info("Notifications connected")
	return nil
}

// Messages returns the notification channel. It is closed when the
// connection ends.
func (c *WSClient) Messages() <-chan models.Notification {
	return c.messages
}

// Errors returns the error channel.
func (c *WSClient) Errors() <-chan error {
	return c.errors
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

		err := c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer func() {
		c.Close()
		close(c.messages)
		close(c.errors)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				select {
				case c.errors <- err:
				default:
				}
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))

		var msg models.Notification
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.WithError(err).Warn("Ignoring malformed notification")
			continue
		}

		c.logger.WithField("type", int(msg.Type)).Debug("Received notification")

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			var err error
			if conn != nil {
				err = conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.mu.Unlock()

			if conn == nil {
				return
			}
			if err != nil {
				c.logger.WithError(err).Warn("Ping failed")
				return
			}

		case <-c.done:
			return
		}
	}
}
