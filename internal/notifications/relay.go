package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

var ErrNotConnected = errors.New("relay device not connected")

const (
	FrameHello   = "hello"
	FrameToken   = "token"
	FrameRefresh = "refresh"
	FrameMessage = "message"
)

// Frame is the JSON envelope exchanged over a relay websocket.
type Frame struct {
	Type    string   `json:"type"`
	Token   string   `json:"token,omitempty"`
	Message *Message `json:"message,omitempty"`
}

const (
	relaySendBuffer   = 16
	relayPingInterval = 30 * time.Second
	relayHelloTimeout = 10 * time.Second
)

type relayConn struct {
	conn  *ws.Conn
	send  chan []byte
	token string
}

// Hub is a push gateway for devices that hold a websocket open to the backend.
// Each connection is addressed by the relay token the hub issued to it.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*relayConn
	logger *slog.Logger

	NewToken func() string
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]*relayConn),
		logger: logger,
	}
}

func NewRelayToken() string {
	return relayTokenPrefix + uuid.NewString()
}

func (h *Hub) issueToken() string {
	if h.NewToken != nil {
		return h.NewToken()
	}
	return NewRelayToken()
}

func (h *Hub) Send(_ context.Context, token string, msg Message) error {
	data, err := json.Marshal(Frame{Type: FrameMessage, Message: &msg})
	if err != nil {
		return fmt.Errorf("marshal relay frame: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[token]
	if !ok {
		return ErrNotConnected
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("relay send buffer full")
	}
}

func (h *Hub) Connected(token string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[token]
	return ok
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// claim binds c to the requested token when no live connection holds it, and to a fresh
// token otherwise. It returns the token frame to send to the device.
func (h *Hub) claim(c *relayConn, requested string) (string, []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	token := requested
	for attempt := 0; ; attempt++ {
		if _, taken := h.conns[token]; IsRelayToken(token) && !taken {
			break
		}
		if attempt < 3 {
			token = h.issueToken()
		} else {
			token = NewRelayToken()
		}
	}
	if c.token != "" && h.conns[c.token] == c {
		delete(h.conns, c.token)
	}
	c.token = token
	h.conns[token] = c
	data, _ := json.Marshal(Frame{Type: FrameToken, Token: token})
	return token, data
}

func (h *Hub) unbind(c *relayConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.token] == c {
		delete(h.conns, c.token)
		close(c.send)
	}
}

func (h *Hub) enqueue(c *relayConn, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.conns[c.token] != c {
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warn("relay: dropping frame, buffer full", "token", tokenPrefix(c.token))
	}
}

// Handler upgrades GET /relay to a websocket and serves it until the device disconnects.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			h.logger.Error("relay: accept failed", "err", err)
			return
		}
		defer conn.CloseNow()

		if err := h.Serve(r.Context(), conn); err != nil {
			h.logger.Debug("relay: connection closed", "err", err)
			return
		}
		_ = conn.Close(ws.StatusNormalClosure, "")
	}
}

func (h *Hub) Serve(ctx context.Context, conn *ws.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	helloCtx, helloCancel := context.WithTimeout(ctx, relayHelloTimeout)
	var hello Frame
	err := wsjson.Read(helloCtx, conn, &hello)
	helloCancel()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != FrameHello {
		_ = conn.Close(ws.StatusPolicyViolation, "expected hello")
		return fmt.Errorf("unexpected first frame %q", hello.Type)
	}

	c := &relayConn{conn: conn, send: make(chan []byte, relaySendBuffer)}
	token, tokenFrame := h.claim(c, hello.Token)
	defer h.unbind(c)
	h.enqueue(c, tokenFrame)
	h.logger.Info("relay: device connected", "token", tokenPrefix(token))

	go h.writePump(ctx, cancel, c)

	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return err
		}
		switch f.Type {
		case FrameRefresh:
			next, frame := h.claim(c, "")
			h.enqueue(c, frame)
			h.logger.Info("relay: token rotated", "token", tokenPrefix(next))
		default:
			h.logger.Debug("relay: ignoring frame", "type", f.Type)
		}
	}
}

func (h *Hub) writePump(ctx context.Context, cancel context.CancelFunc, c *relayConn) {
	defer cancel()
	ticker := time.NewTicker(relayPingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func tokenPrefix(token string) string {
	if len(token) <= 14 {
		return token
	}
	return token[:14] + "..."
}
