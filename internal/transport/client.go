package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/punchamoorthee/transferval/internal/logging"
)

// Credentials identify a session to the hub. Rol selects the room the hub
// joins the session to.
type Credentials struct {
	Rol    string
	Nombre string
}

type Options struct {
	Backoff      BackoffConfig
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
	Logger       *logging.Logger
}

func DefaultOptions() Options {
	return Options{
		Backoff:      DefaultBackoffConfig(),
		WriteTimeout: 10 * time.Second,
		Dialer:       websocket.DefaultDialer,
	}
}

// Client is a reconnecting WebSocket connection to the hub. Inbound events
// are dispatched on the client's reader goroutine. EventConnect and
// EventDisconnect are published locally after every reconnect and drop.
type Client struct {
	url    string
	opts   Options
	bus    *Bus
	logger *logging.Logger
	rng    *rand.Rand

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// Dial connects to the hub at rawURL. The first connection must succeed;
// later drops are retried with backoff until Close.
func Dial(ctx context.Context, rawURL string, creds Credentials, opts Options) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url: %w", err)
	}
	q := u.Query()
	q.Set("rol", creds.Rol)
	q.Set("nombre", creds.Nombre)
	u.RawQuery = q.Encode()

	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:    u.String(),
		opts:   opts,
		bus:    NewBus(),
		logger: logger.Named("transport").With(zap.String("rol", creds.Rol), zap.String("nombre", creds.Nombre)),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:    runCtx,
		cancel: cancel,
	}

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.conn = conn
	c.logger.Info("connected", zap.String("url", u.Redacted()))

	c.wg.Go(func() { c.run(conn) })
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return conn, nil
}

func (c *Client) run(conn *websocket.Conn) {
	for {
		c.readLoop(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("connection lost")
		c.bus.Publish(Message{Event: EventDisconnect})

		conn = c.reconnect()
		if conn == nil {
			return
		}
	}
}

func (c *Client) reconnect() *websocket.Conn {
	for attempt := 1; ; attempt++ {
		delay := NextBackoffDelay(c.opts.Backoff, attempt, c.rng)
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := c.dial(c.ctx)
		if err != nil {
			c.logger.Debug("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return nil
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("reconnected", zap.Int("attempts", attempt))
		c.bus.Publish(Message{Event: EventConnect})
		return conn
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if msg.Event == EventConnect || msg.Event == EventDisconnect {
			continue
		}
		c.bus.Publish(msg)
	}
}

// Emit sends event to the hub. It fails fast with ErrNotConnected while the
// client is between connections; nothing is queued.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	msg, err := NewMessage(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: encode envelope: %w", err)
	}

	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("transport: emit %s: %w", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: emit %s: %w", event, err)
	}
	return nil
}

func (c *Client) Subscribe(event string, h Handler) Subscription {
	return c.bus.Subscribe(event, h)
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close stops reconnecting, closes the connection and waits for the reader.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.wg.Wait()
	return nil
}
