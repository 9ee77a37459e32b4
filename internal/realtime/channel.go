package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Reconnect backoff bounds. The portal backend drops idle connections
	// often enough that the channel reconnects indefinitely.
	backoffStart = 800 * time.Millisecond
	backoffMax   = 2500 * time.Millisecond

	dialTimeout = 12 * time.Second
)

// Options configure the notification channel. A channel is keyed by the
// (UserID, BusinessID) pair of the authenticated merchant.
type Options struct {
	URL  string // ws(s):// endpoint
	Path string // defaults to /socket.io, leading slash enforced

	// Token authenticates the connection. When DevMode is set the backend
	// runs without auth and expects explicit identifiers instead.
	Token string

	// TokenFunc, when set, is consulted on every dial and takes precedence
	// over Token. Reconnects after a token refresh must authenticate with
	// the current access token, not the one captured at construction.
	TokenFunc func() string

	DevMode    bool
	DevRole    string // defaults to "merchant"
	UserID     int64
	BusinessID int64
}

// Event is the wire frame pushed by the backend.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event types the channel reacts to. Anything else is logged and dropped.
const (
	EventNotification = "notification"
	EventOrderStatus  = "order_status"
)

// Handler receives normalized notifications. It is called from the
// channel's read loop, so it must not block.
type Handler func(Notification)

// Channel maintains at most one live connection to the push endpoint,
// reconnecting with bounded exponential backoff until closed.
type Channel struct {
	opts    Options
	handler Handler

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewChannel(opts Options, handler Handler) *Channel {
	if opts.Path == "" {
		opts.Path = "/socket.io"
	}
	if !strings.HasPrefix(opts.Path, "/") {
		opts.Path = "/" + opts.Path
	}
	if opts.DevRole == "" {
		opts.DevRole = "merchant"
	}
	if handler == nil {
		handler = func(Notification) {}
	}
	return &Channel{opts: opts, handler: handler}
}

// Connect starts the connection loop. Calling Connect on a channel that is
// already running is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	if c.opts.URL == "" {
		return fmt.Errorf("socket endpoint is not configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.run(ctx)
	return nil
}

// Close tears the channel down: the read loop stops, the socket is closed
// and no further events are delivered. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	if c.conn != nil {
		c.conn.Close()
	}
	done := c.done
	c.mu.Unlock()

	<-done
	log.Info().Int64("userId", c.opts.UserID).Int64("businessId", c.opts.BusinessID).
		Msg("notification channel closed")
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)

	backoff := backoffStart
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Dur("retryIn", backoff).Msg("notification channel connect_error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		c.mu.Lock()
		if !c.running {
			// Close ran between dial and publish; it never saw this conn,
			// so close it here or its read loop would outlive the channel.
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		log.Info().Int64("userId", c.opts.UserID).Int64("businessId", c.opts.BusinessID).
			Msg("notification channel connected")
		backoff = backoffStart

		c.readLoop(ctx, conn)
		conn.Close()

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		log.Info().Dur("retryIn", backoff).Msg("notification channel disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("notification channel read failed")
			}
			return
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Warn().Err(err).Msg("dropping unparseable push event")
			continue
		}

		switch event.Type {
		case EventNotification, EventOrderStatus:
			c.handler(normalize(event))
		default:
			log.Debug().Str("type", event.Type).Msg("ignoring push event")
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid socket URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = c.opts.Path

	q := u.Query()
	if c.opts.DevMode {
		// DEV_NOAUTH backend mode: identify with explicit ids instead of a
		// bearer token.
		q.Set("devUserId", strconv.FormatInt(c.opts.UserID, 10))
		q.Set("devRole", c.opts.DevRole)
		if c.opts.BusinessID != 0 {
			q.Set("business_id", strconv.FormatInt(c.opts.BusinessID, 10))
		}
	} else {
		token := c.opts.Token
		if c.opts.TokenFunc != nil {
			token = c.opts.TokenFunc()
		}
		if token != "" {
			q.Set("token", token)
		}
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// nextBackoff doubles the delay up to the cap.
func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > backoffMax {
		return backoffMax
	}
	return next
}
