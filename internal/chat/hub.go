package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/pigeon/internal/bus"
	"github.com/matheus3301/pigeon/internal/conn"
	"github.com/matheus3301/pigeon/internal/presence"
	"github.com/matheus3301/pigeon/internal/protocol"
	"github.com/matheus3301/pigeon/internal/room"
	"github.com/matheus3301/pigeon/internal/store"
	"go.uber.org/zap"
)

// Hub owns the connect/disconnect lifecycle and dispatches inbound frames to
// the pipeline. Transport code only talks to the Hub.
type Hub struct {
	store    Store
	presence *presence.Registry
	rooms    *room.Manager
	out      *Broadcaster
	pipeline *Pipeline
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time

	// Connect and disconnect of one user run one at a time so the persisted
	// presence always matches the registry. Other users never wait on it.
	lifecycle userLocks
}

// NewHub creates a hub over the shared registry and room tables.
func NewHub(s Store, p *presence.Registry, rooms *room.Manager, out *Broadcaster, pipeline *Pipeline, b *bus.Bus, logger *zap.Logger) *Hub {
	return &Hub{
		store:     s,
		presence:  p,
		rooms:     rooms,
		out:       out,
		pipeline:  pipeline,
		bus:       b,
		logger:    logger,
		now:       time.Now,
		lifecycle: userLocks{locks: make(map[string]*userLock)},
	}
}

type userLock struct {
	sync.Mutex
	refs int
}

// userLocks hands out one mutex per user id and forgets it once unused.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

func (u *userLocks) lock(userID string) (unlock func()) {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &userLock{}
		u.locks[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, userID)
		}
		u.mu.Unlock()
	}
}

// Connect registers an authenticated connection, persists the user as
// online, announces it to everyone else and sends the presence snapshot to
// the new connection. The returned generation must be passed to Disconnect.
func (h *Hub) Connect(ctx context.Context, c conn.Conn) uint64 {
	defer h.lifecycle.lock(c.UserID())()

	gen, replaced := h.presence.Register(c)
	if replaced != nil {
		h.logger.Info("connection superseded",
			zap.String("user_id", c.UserID()),
			zap.String("old_conn_id", replaced.ID()),
			zap.String("conn_id", c.ID()))
	}

	if err := h.store.UpdateUserPresence(ctx, c.UserID(), true, h.now()); err != nil {
		h.logger.Error("persist online failed", zap.String("user_id", c.UserID()), zap.Error(err))
	}

	h.out.Broadcast(c.ID(), protocol.Event{Name: protocol.UserOnline, Data: protocol.UserOnlinePayload{
		UserID:   c.UserID(),
		Username: c.Username(),
		IsOnline: true,
	}})
	h.out.SendToConn(c, protocol.Event{Name: protocol.OnlineUsers, Data: protocol.OnlineUsersPayload{
		List: h.presence.Snapshot(),
	}})
	h.bus.Emit(bus.KindPresenceOnline, map[string]string{"user_id": c.UserID(), "conn_id": c.ID()})

	h.logger.Info("user connected",
		zap.String("user_id", c.UserID()),
		zap.String("username", c.Username()),
		zap.String("conn_id", c.ID()),
		zap.Uint64("generation", gen))
	return gen
}

// Disconnect detaches c from its rooms and, if c is still the user's current
// connection, unregisters it, persists the user as offline and announces it.
// A disconnect from a superseded connection leaves presence untouched.
func (h *Hub) Disconnect(ctx context.Context, c conn.Conn, generation uint64) {
	left := h.rooms.LeaveAll(c)

	defer h.lifecycle.lock(c.UserID())()

	if !h.presence.Unregister(c.UserID(), generation) {
		h.logger.Info("stale disconnect ignored",
			zap.String("user_id", c.UserID()),
			zap.String("conn_id", c.ID()),
			zap.Uint64("generation", generation),
			zap.Int("rooms_left", left))
		return
	}

	lastSeen := h.now()
	if err := h.store.UpdateUserPresence(ctx, c.UserID(), false, lastSeen); err != nil {
		h.logger.Error("persist offline failed", zap.String("user_id", c.UserID()), zap.Error(err))
	}
	h.out.Broadcast(c.ID(), protocol.Event{Name: protocol.UserOffline, Data: protocol.UserOfflinePayload{
		UserID:   c.UserID(),
		Username: c.Username(),
		IsOnline: false,
		LastSeen: lastSeen,
	}})
	h.bus.Emit(bus.KindPresenceOffline, map[string]string{"user_id": c.UserID(), "conn_id": c.ID()})

	h.logger.Info("user disconnected",
		zap.String("user_id", c.UserID()),
		zap.String("conn_id", c.ID()),
		zap.Int("rooms_left", left))
}

// Handle processes one inbound frame from c. Failures are reported to c as a
// messageError and never end the connection.
func (h *Hub) Handle(ctx context.Context, c conn.Conn, in protocol.Inbound) {
	if err := h.dispatch(ctx, c, in); err != nil {
		if !errors.Is(err, ErrPersistenceFailure) {
			h.logger.Debug("request rejected",
				zap.String("event", in.Name),
				zap.String("user_id", c.UserID()),
				zap.Error(err))
		}
		h.out.SendToConn(c, errorEvent(err))
	}
}

// HandleFrame decodes one raw client frame and handles it.
func (h *Hub) HandleFrame(ctx context.Context, c conn.Conn, frame []byte) {
	in, err := protocol.Decode(frame)
	if err != nil {
		h.out.SendToConn(c, errorEvent(err))
		return
	}
	h.Handle(ctx, c, in)
}

func (h *Hub) dispatch(ctx context.Context, c conn.Conn, in protocol.Inbound) error {
	switch in.Name {
	case protocol.JoinConversation:
		var req protocol.ConversationRequest
		if err := in.Bind(&req); err != nil {
			return err
		}
		return h.pipeline.JoinConversation(c, req)

	case protocol.LeaveConversation:
		var req protocol.ConversationRequest
		if err := in.Bind(&req); err != nil {
			return err
		}
		return h.pipeline.LeaveConversation(c, req)

	case protocol.SendMessage:
		var req protocol.SendMessageRequest
		if err := in.Bind(&req); err != nil {
			return err
		}
		_, err := h.pipeline.Send(ctx, c, req)
		return err

	case protocol.MarkAsRead:
		var req protocol.MarkAsReadRequest
		if err := in.Bind(&req); err != nil {
			return err
		}
		return h.pipeline.MarkRead(ctx, c, req)

	case protocol.Typing:
		var req protocol.TypingRequest
		if err := in.Bind(&req); err != nil {
			return err
		}
		h.pipeline.Typing(c, req)
		return nil

	case protocol.UpdateStatus:
		var req protocol.UpdateStatusRequest
		if err := in.Bind(&req); err != nil {
			return err
		}
		return h.pipeline.UpdateStatus(ctx, c, req)

	default:
		return invalid("unknown event %q", in.Name)
	}
}

// SendAs sends a message for a caller without a live connection.
func (h *Hub) SendAs(ctx context.Context, sender *store.User, req protocol.SendMessageRequest) (*store.Message, error) {
	return h.pipeline.SendAs(ctx, sender, req)
}

// Acknowledge moves a message forward on behalf of its recipient.
func (h *Hub) Acknowledge(ctx context.Context, userID, messageID string, status store.MessageStatus) (*store.Message, error) {
	return h.pipeline.Acknowledge(ctx, userID, messageID, status)
}

// Online returns the current presence snapshot.
func (h *Hub) Online() []protocol.OnlineUser {
	return h.presence.Snapshot()
}
