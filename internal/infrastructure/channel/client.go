package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configures the websocket event channel.
type Options struct {
	URL          string
	Token        string // bearer token attached to the dial request
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	Reconnect    retry.Config
}

// DefaultOptions returns the usual timeouts.
func DefaultOptions(url, token string) Options {
	return Options{
		URL:          url,
		Token:        token,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		Reconnect: retry.Config{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     15 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

// Client is the persistent bidirectional event channel over a websocket.
// It owns connect, typed send/receive and reconnection with backoff; a
// transport drop surfaces as OnDisconnect, recovery as OnReconnect.
// Inbound envelopes are delivered sequentially from a single read loop.
type Client struct {
	opts   Options
	events ports.ChannelEvents
	logger *zap.SugaredLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	done chan struct{}
}

var _ ports.EventChannel = (*Client)(nil)

// NewClient creates an unconnected channel client.
func NewClient(opts Options, logger *zap.SugaredLogger) *Client {
	return &Client{
		opts:   opts,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// SetEvents installs the delivery callbacks. Must precede Connect.
func (c *Client) SetEvents(events ports.ChannelEvents) {
	c.events = events
}

// Connect dials the channel and starts the read and ping loops.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return domain.ErrSessionClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.startLoops(conn)
	c.logger.Infow("event channel connected", "url", c.opts.URL)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})
	return conn, nil
}

func (c *Client) startLoops(conn *websocket.Conn) {
	go c.readLoop(conn)
	go c.pingLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			closed := c.closed
			current := c.conn == conn
			if current {
				c.conn = nil
			}
			c.mu.Unlock()

			if closed || !current {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("event channel read failed", "error", err)
			}
			if c.events.OnDisconnect != nil {
				c.events.OnDisconnect(err)
			}
			go c.reconnectLoop()
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		if c.events.OnMessage != nil {
			c.events.OnMessage(env)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn == conn && !c.closed
			c.mu.Unlock()
			if !current {
				return
			}
			// WriteControl may race a concurrent Send; data writes may not.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debugw("ping failed", "error", err)
				return
			}
		}
	}
}

// reconnectLoop redials with exponential backoff until it succeeds or the
// client is closed. The channel owns recovery; controllers only re-join.
func (c *Client) reconnectLoop() {
	backoff := retry.NewBackoff(c.opts.Reconnect)
	for {
		delay := backoff.Next()
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.logger.Warnw("event channel reconnect failed", "attempt", backoff.Attempt(), "error", err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.startLoops(conn)
		c.logger.Infow("event channel reconnected", "attempts", backoff.Attempt())
		if c.events.OnReconnect != nil {
			c.events.OnReconnect()
		}
		return
	}
}

// Send writes one envelope. Writes are serialized; concurrent senders do
// not interleave frames.
func (c *Client) Send(ctx context.Context, env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return domain.ErrNotConnected
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteJSON(env)
}

// Close tears the transport down and stops any reconnecting. Idempotent.
// It never waits for the read loop, so handlers running on the delivery
// path may call it; the loops observe closed and drain on their own.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	return nil
}
