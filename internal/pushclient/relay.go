package pushclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"pushscheduler/internal/notifications"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

var ErrRelayClosed = errors.New("relay connection closed")

// RelayURL maps the backend base URL to its websocket relay endpoint.
func RelayURL(base *url.URL) string {
	u := base.JoinPath("/relay")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// RelayClient holds the websocket to the backend relay hub. The hub issues the remote
// token and pushes messages addressed to it.
type RelayClient struct {
	url    string
	logger *slog.Logger

	mu         sync.Mutex
	conn       *ws.Conn
	token      string
	tokenReady chan struct{}
	foreground bool
	nextID     int
	onMessage  map[int]func(notifications.Message)
	onToken    map[int]func(string)
	background func(notifications.Message)
	err        error

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelayClient(relayURL string, logger *slog.Logger) *RelayClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayClient{
		url:        relayURL,
		logger:     logger,
		tokenReady: make(chan struct{}),
		foreground: true,
		onMessage:  make(map[int]func(notifications.Message)),
		onToken:    make(map[int]func(string)),
		done:       make(chan struct{}),
	}
}

// Connect dials the relay and sends the hello frame. A well-formed previous token is
// reused by the hub.
func (c *RelayClient) Connect(ctx context.Context, previousToken string) error {
	conn, _, err := ws.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	if err := wsjson.Write(ctx, conn, notifications.Frame{Type: notifications.FrameHello, Token: previousToken}); err != nil {
		_ = conn.CloseNow()
		return fmt.Errorf("send hello: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)
	return nil
}

// Token waits for the hub to issue a token.
func (c *RelayClient) Token(ctx context.Context) (string, error) {
	select {
	case <-c.tokenReady:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.token, nil
	case <-c.done:
		return "", c.closedErr()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RefreshToken asks the hub for a new token. The new value reaches OnTokenRefresh
// listeners.
func (c *RelayClient) RefreshToken(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrRelayClosed
	}
	return wsjson.Write(ctx, conn, notifications.Frame{Type: notifications.FrameRefresh})
}

// OnMessage registers fn for messages that arrive while the client is in the foreground.
func (c *RelayClient) OnMessage(fn func(notifications.Message)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.onMessage[id] = fn
	return NewSubscription(func() {
		c.mu.Lock()
		delete(c.onMessage, id)
		c.mu.Unlock()
	})
}

func (c *RelayClient) OnTokenRefresh(fn func(string)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.onToken[id] = fn
	return NewSubscription(func() {
		c.mu.Lock()
		delete(c.onToken, id)
		c.mu.Unlock()
	})
}

// SetBackgroundHandler sets the handler used for messages that arrive while the client is
// in the background.
func (c *RelayClient) SetBackgroundHandler(fn func(notifications.Message)) {
	c.mu.Lock()
	c.background = fn
	c.mu.Unlock()
}

func (c *RelayClient) SetForeground(foreground bool) {
	c.mu.Lock()
	c.foreground = foreground
	c.mu.Unlock()
}

// Done is closed once the connection has ended.
func (c *RelayClient) Done() <-chan struct{} { return c.done }

func (c *RelayClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close(ws.StatusNormalClosure, "")
	if cancel != nil {
		cancel()
	}
	<-c.done
	return err
}

func (c *RelayClient) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrRelayClosed, c.err)
	}
	return ErrRelayClosed
}

func (c *RelayClient) readLoop(ctx context.Context, conn *ws.Conn) {
	defer close(c.done)
	for {
		var f notifications.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			c.logger.Debug("relay: read loop ended", "err", err)
			return
		}
		switch f.Type {
		case notifications.FrameToken:
			c.handleToken(f.Token)
		case notifications.FrameMessage:
			if f.Message != nil {
				c.handleMessage(*f.Message)
			}
		default:
			c.logger.Debug("relay: ignoring frame", "type", f.Type)
		}
	}
}

func (c *RelayClient) handleToken(token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	first := c.token == ""
	changed := c.token != token
	c.token = token
	var listeners []func(string)
	if !first && changed {
		for _, fn := range c.onToken {
			listeners = append(listeners, fn)
		}
	}
	c.mu.Unlock()

	if first {
		close(c.tokenReady)
		return
	}
	for _, fn := range listeners {
		fn(token)
	}
}

func (c *RelayClient) handleMessage(msg notifications.Message) {
	c.mu.Lock()
	var handlers []func(notifications.Message)
	if c.foreground {
		for _, fn := range c.onMessage {
			handlers = append(handlers, fn)
		}
	} else if c.background != nil {
		handlers = append(handlers, c.background)
	}
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.logger.Info("relay: message dropped, no handler", "id", msg.ID)
		return
	}
	for _, fn := range handlers {
		fn(msg)
	}
}
