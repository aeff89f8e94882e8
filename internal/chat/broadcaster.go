package chat

import (
	"github.com/matheus3301/pigeon/internal/conn"
	"github.com/matheus3301/pigeon/internal/presence"
	"github.com/matheus3301/pigeon/internal/protocol"
	"github.com/matheus3301/pigeon/internal/room"
	"go.uber.org/zap"
)

// Broadcaster delivers events to live connections. Nothing is queued for
// users who are not connected.
type Broadcaster struct {
	presence *presence.Registry
	rooms    *room.Manager
	logger   *zap.Logger
}

// NewBroadcaster creates a broadcaster over the registry and room tables.
func NewBroadcaster(p *presence.Registry, rooms *room.Manager, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{presence: p, rooms: rooms, logger: logger}
}

// Broadcast sends evt to every online user's connection except exceptConnID.
func (b *Broadcaster) Broadcast(exceptConnID string, evt protocol.Event) int {
	n := 0
	for _, c := range b.presence.Conns() {
		if c.ID() == exceptConnID {
			continue
		}
		if b.send(c, evt) {
			n++
		}
	}
	return n
}

// SendToUser resolves userID through the registry and sends evt to its
// current connection. Returns false when the user is offline or the send dropped.
func (b *Broadcaster) SendToUser(userID string, evt protocol.Event) bool {
	c, ok := b.presence.Lookup(userID)
	if !ok {
		return false
	}
	return b.send(c, evt)
}

// SendToConn sends evt to one connection.
func (b *Broadcaster) SendToConn(c conn.Conn, evt protocol.Event) bool {
	return b.send(c, evt)
}

func (b *Broadcaster) send(c conn.Conn, evt protocol.Event) bool {
	if c.Send(evt) {
		return true
	}
	b.logger.Warn("event dropped",
		zap.String("event", evt.Name),
		zap.String("conn_id", c.ID()),
		zap.String("user_id", c.UserID()))
	return false
}

// fanout sends one event to several destinations, at most once per connection.
type fanout struct {
	b    *Broadcaster
	evt  protocol.Event
	seen map[string]struct{}
}

func (b *Broadcaster) fanout(evt protocol.Event) *fanout {
	return &fanout{b: b, evt: evt, seen: make(map[string]struct{})}
}

func (f *fanout) conn(c conn.Conn) {
	if c == nil {
		return
	}
	if _, ok := f.seen[c.ID()]; ok {
		return
	}
	f.seen[c.ID()] = struct{}{}
	f.b.send(c, f.evt)
}

func (f *fanout) room(key string) {
	for _, c := range f.b.rooms.Members(key) {
		f.conn(c)
	}
}

func (f *fanout) user(userID string) {
	if c, ok := f.b.presence.Lookup(userID); ok {
		f.conn(c)
	}
}

func (f *fanout) delivered() int {
	return len(f.seen)
}
