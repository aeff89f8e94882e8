package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/pigeon/internal/bus"
	"github.com/matheus3301/pigeon/internal/conn"
	"github.com/matheus3301/pigeon/internal/presence"
	"github.com/matheus3301/pigeon/internal/protocol"
	"github.com/matheus3301/pigeon/internal/room"
	"github.com/matheus3301/pigeon/internal/store"
	"go.uber.org/zap"
)

// Store is the durable store as the pipeline uses it.
type Store interface {
	FindUserByID(ctx context.Context, id string) (*store.User, error)
	FriendshipStatus(ctx context.Context, a, b string) (store.FriendshipState, error)
	InsertMessage(ctx context.Context, m *store.Message) error
	UpdateMessageStatus(ctx context.Context, id string, status store.MessageStatus, at time.Time) (bool, error)
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	UpdateUserPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error
	UpdateUserStatus(ctx context.Context, id, status string) error
}

// Limits bounds client-supplied text.
type Limits struct {
	MaxContentLength int
	MaxStatusLength  int
}

// Pipeline validates, authorizes, persists and fans out messages, and moves
// them through sent -> delivered -> read.
type Pipeline struct {
	store    Store
	presence *presence.Registry
	rooms    *room.Manager
	out      *Broadcaster
	bus      *bus.Bus
	limits   Limits
	logger   *zap.Logger
	now      func() time.Time
}

// NewPipeline creates a delivery pipeline.
func NewPipeline(s Store, p *presence.Registry, rooms *room.Manager, out *Broadcaster, b *bus.Bus, limits Limits, logger *zap.Logger) *Pipeline {
	if limits.MaxContentLength <= 0 {
		limits.MaxContentLength = 1000
	}
	if limits.MaxStatusLength <= 0 {
		limits.MaxStatusLength = 150
	}
	return &Pipeline{
		store:    s,
		presence: p,
		rooms:    rooms,
		out:      out,
		bus:      b,
		limits:   limits,
		logger:   logger,
		now:      time.Now,
	}
}

// Send delivers one message from the user owning from. The message is
// persisted before any event is emitted; a persistence failure emits nothing.
// The returned message carries its final status (sent or delivered).
func (p *Pipeline) Send(ctx context.Context, from conn.Conn, req protocol.SendMessageRequest) (*store.Message, error) {
	return p.send(ctx, from.UserID(), from.Username(), from, req)
}

// SendAs is Send for a caller without a live connection, such as the HTTP
// API. The sender's registered connection, if any, still gets the message.
func (p *Pipeline) SendAs(ctx context.Context, sender *store.User, req protocol.SendMessageRequest) (*store.Message, error) {
	return p.send(ctx, sender.ID, sender.Username, nil, req)
}

func (p *Pipeline) send(ctx context.Context, senderID, senderName string, from conn.Conn, req protocol.SendMessageRequest) (*store.Message, error) {
	msgType := store.MessageType(req.MessageType)
	if msgType == "" {
		msgType = store.TypeText
	}
	content := strings.TrimSpace(req.Content)
	switch {
	case req.RecipientID == "":
		return nil, invalid("recipientId is required")
	case req.RecipientID == senderID:
		return nil, invalid("cannot message yourself")
	case content == "":
		return nil, invalid("content is required")
	case utf8.RuneCountInString(content) > p.limits.MaxContentLength:
		return nil, invalid("content exceeds %d characters", p.limits.MaxContentLength)
	case !msgType.Valid():
		return nil, invalid("unknown messageType %q", req.MessageType)
	}

	recipient, err := p.store.FindUserByID(ctx, req.RecipientID)
	if err != nil {
		return nil, p.persistenceFailure("find recipient", err, senderID)
	}
	if recipient == nil {
		return nil, ErrRecipientNotFound
	}

	if req.ReplyTo != "" {
		parent, err := p.store.GetMessage(ctx, req.ReplyTo)
		if err != nil {
			return nil, p.persistenceFailure("find replied message", err, senderID)
		}
		if parent == nil || room.Key(parent.SenderID, parent.RecipientID) != room.Key(senderID, req.RecipientID) {
			return nil, invalid("replyTo does not reference a message in this conversation")
		}
	}

	state, err := p.store.FriendshipStatus(ctx, senderID, req.RecipientID)
	if err != nil {
		return nil, p.persistenceFailure("friendship status", err, senderID)
	}
	if state != store.FriendshipAccepted {
		p.bus.Emit(bus.KindMessageRejected, map[string]string{"sender_id": senderID, "recipient_id": req.RecipientID})
		return nil, ErrNotAuthorized
	}

	msg := &store.Message{
		SenderID:      senderID,
		SenderName:    senderName,
		RecipientID:   recipient.ID,
		RecipientName: recipient.Username,
		Content:       content,
		MessageType:   msgType,
		ReplyTo:       req.ReplyTo,
		CreatedAt:     p.now(),
	}
	if err := p.store.InsertMessage(ctx, msg); err != nil {
		return nil, p.persistenceFailure("insert message", err, senderID)
	}
	p.bus.Emit(bus.KindMessageSent, map[string]string{"message_id": msg.ID, "sender_id": senderID, "recipient_id": recipient.ID})

	// The write pumps encode asynchronously, so the event gets its own copy.
	sent := *msg
	f := p.out.fanout(protocol.Event{Name: protocol.NewMessage, Data: protocol.NewMessagePayload{Message: &sent}})
	f.room(room.Key(senderID, recipient.ID))
	if from != nil {
		f.conn(from)
	} else {
		f.user(senderID)
	}
	f.user(recipient.ID)

	if !p.presence.IsOnline(recipient.ID) {
		p.logger.Info("message sent",
			zap.String("message_id", msg.ID),
			zap.String("sender_id", senderID),
			zap.String("recipient_id", recipient.ID),
			zap.Int("fanout", f.delivered()))
		return msg, nil
	}

	at := p.now()
	changed, err := p.store.UpdateMessageStatus(ctx, msg.ID, store.StatusDelivered, at)
	if err != nil {
		// The message is durable as sent; only the promotion is lost.
		p.logger.Error("delivery promotion failed", zap.Error(err), zap.String("message_id", msg.ID))
		return msg, nil
	}
	if !changed {
		return msg, nil
	}
	msg.Status = store.StatusDelivered
	msg.DeliveredAt = &at
	p.bus.Emit(bus.KindMessageDelivered, map[string]string{"message_id": msg.ID})

	receipt := protocol.Event{Name: protocol.MessageDelivered, Data: protocol.MessageDeliveredPayload{
		MessageID: msg.ID,
		Status:    store.StatusDelivered,
	}}
	rf := p.out.fanout(receipt)
	if from != nil {
		rf.conn(from)
	} else {
		rf.user(senderID)
	}
	rf.user(recipient.ID)

	p.logger.Info("message delivered",
		zap.String("message_id", msg.ID),
		zap.String("sender_id", senderID),
		zap.String("recipient_id", recipient.ID),
		zap.Int("fanout", f.delivered()))
	return msg, nil
}

// MarkRead moves a message to read on behalf of its recipient and notifies
// the sender if connected. Unknown messages and acks from anyone but the
// recipient are ignored without an error, so existence is never revealed.
func (p *Pipeline) MarkRead(ctx context.Context, from conn.Conn, req protocol.MarkAsReadRequest) error {
	if req.MessageID == "" {
		return nil
	}
	_, err := p.Acknowledge(ctx, from.UserID(), req.MessageID, store.StatusRead)
	if errors.Is(err, ErrMessageNotFound) {
		return nil
	}
	return err
}

// Acknowledge moves a message forward to status on behalf of its recipient
// and notifies whoever is connected. A status at or behind the stored one
// changes nothing and returns the message as stored. ErrMessageNotFound
// covers both a missing message and a caller who is not its recipient.
func (p *Pipeline) Acknowledge(ctx context.Context, userID, messageID string, status store.MessageStatus) (*store.Message, error) {
	if status != store.StatusDelivered && status != store.StatusRead {
		return nil, invalid("status must be delivered or read")
	}
	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, p.persistenceFailure("find message", err, userID)
	}
	if msg == nil || msg.RecipientID != userID {
		return nil, ErrMessageNotFound
	}

	at := p.now()
	changed, err := p.store.UpdateMessageStatus(ctx, msg.ID, status, at)
	if err != nil {
		return nil, p.persistenceFailure("update message status", err, userID)
	}
	if !changed {
		return msg, nil
	}
	msg.Status = status

	switch status {
	case store.StatusDelivered:
		msg.DeliveredAt = &at
		p.bus.Emit(bus.KindMessageDelivered, map[string]string{"message_id": msg.ID})
		rf := p.out.fanout(protocol.Event{Name: protocol.MessageDelivered, Data: protocol.MessageDeliveredPayload{
			MessageID: msg.ID,
			Status:    store.StatusDelivered,
		}})
		rf.user(msg.SenderID)
		rf.user(msg.RecipientID)
	case store.StatusRead:
		msg.ReadAt = &at
		p.bus.Emit(bus.KindMessageRead, map[string]string{"message_id": msg.ID})
		p.out.SendToUser(msg.SenderID, protocol.Event{Name: protocol.MessageRead, Data: protocol.MessageReadPayload{
			MessageID: msg.ID,
			Status:    store.StatusRead,
			ReadAt:    at,
		}})
	}
	return msg, nil
}

// Typing relays a typing indicator. It touches only in-memory state.
func (p *Pipeline) Typing(from conn.Conn, req protocol.TypingRequest) {
	p.presence.SetTyping(from.UserID(), req.IsTyping)
	if req.RecipientID == "" || req.RecipientID == from.UserID() {
		return
	}
	p.out.SendToUser(req.RecipientID, protocol.Event{Name: protocol.UserTyping, Data: protocol.UserTypingPayload{
		UserID:   from.UserID(),
		Username: from.Username(),
		IsTyping: req.IsTyping,
	}})
}

// UpdateStatus persists the user's status text and announces it to everyone else.
func (p *Pipeline) UpdateStatus(ctx context.Context, from conn.Conn, req protocol.UpdateStatusRequest) error {
	status := strings.TrimSpace(req.Status)
	if utf8.RuneCountInString(status) > p.limits.MaxStatusLength {
		return invalid("status exceeds %d characters", p.limits.MaxStatusLength)
	}
	if err := p.store.UpdateUserStatus(ctx, from.UserID(), status); err != nil {
		return p.persistenceFailure("update status", err, from.UserID())
	}
	p.bus.Emit(bus.KindPresenceStatus, map[string]string{"user_id": from.UserID()})
	p.out.Broadcast(from.ID(), protocol.Event{Name: protocol.UserStatusUpdate, Data: protocol.UserStatusPayload{
		UserID: from.UserID(),
		Status: status,
	}})
	return nil
}

// JoinConversation attaches from to the room shared with the recipient.
func (p *Pipeline) JoinConversation(from conn.Conn, req protocol.ConversationRequest) error {
	if req.RecipientID == "" {
		return invalid("recipientId is required")
	}
	key, joined := p.rooms.Join(from, from.UserID(), req.RecipientID)
	if joined {
		p.logger.Debug("joined room", zap.String("room", key), zap.String("user_id", from.UserID()))
	}
	p.out.SendToConn(from, protocol.Event{Name: protocol.RoomJoined, Data: protocol.RoomJoinedPayload{
		RoomID:      key,
		RecipientID: req.RecipientID,
	}})
	return nil
}

// LeaveConversation detaches from from the room shared with the recipient.
func (p *Pipeline) LeaveConversation(from conn.Conn, req protocol.ConversationRequest) error {
	if req.RecipientID == "" {
		return invalid("recipientId is required")
	}
	p.rooms.Leave(from, from.UserID(), req.RecipientID)
	return nil
}

func (p *Pipeline) persistenceFailure(op string, err error, userID string) error {
	p.logger.Error("store operation failed", zap.String("op", op), zap.String("user_id", userID), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrPersistenceFailure, op, err)
}
