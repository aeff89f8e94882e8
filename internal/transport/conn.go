package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/pigeon/internal/protocol"
	"github.com/matheus3301/pigeon/internal/store"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	closeGraceWait = time.Second
)

// wsConn is one authenticated client connection. Outbound events go through
// a bounded queue drained by writePump; when the queue is full the event is
// dropped rather than blocking the sender.
type wsConn struct {
	id   string
	user *store.User
	ws   *websocket.Conn

	send    chan protocol.Event
	done    chan struct{}
	once    sync.Once
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

func newConn(ws *websocket.Conn, user *store.User, queue int, limiter ratelimit.Limiter, logger *zap.Logger) *wsConn {
	id := uuid.NewString()
	return &wsConn{
		id:      id,
		user:    user,
		ws:      ws,
		send:    make(chan protocol.Event, queue),
		done:    make(chan struct{}),
		limiter: limiter,
		logger:  logger.With(zap.String("conn_id", id), zap.String("user_id", user.ID)),
	}
}

func (c *wsConn) ID() string       { return c.id }
func (c *wsConn) UserID() string   { return c.user.ID }
func (c *wsConn) Username() string { return c.user.Username }

// Send queues evt without blocking. It returns false if the queue is full or
// the connection is closed.
func (c *wsConn) Send(evt protocol.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

// Close stops both pumps. Safe to call more than once and from any goroutine.
func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// readLoop processes inbound frames in arrival order until the peer goes
// away or the connection is closed.
func (c *wsConn) readLoop(ctx context.Context, handle func(ctx context.Context, frame []byte)) {
	defer c.Close()

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("read ended", zap.Error(err))
			}
			return
		}
		c.limiter.Take()
		handle(ctx, frame)
	}
}

// writePump drains the send queue and keeps the peer alive with pings. It
// owns every data write on the socket and closes it on exit.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case evt := <-c.send:
			data, err := protocol.Encode(evt)
			if err != nil {
				c.logger.Error("encode event", zap.String("event", evt.Name), zap.Error(err))
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing connection")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGraceWait))
			return
		}
	}
}
