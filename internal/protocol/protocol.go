// Package protocol defines the JSON frames exchanged with clients.
//
// Every frame is an envelope {"event": <name>, "data": <payload>}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/pigeon/internal/store"
)

// Inbound event names.
const (
	JoinConversation  = "joinConversation"
	LeaveConversation = "leaveConversation"
	SendMessage       = "sendMessage"
	MarkAsRead        = "markAsRead"
	Typing            = "typing"
	UpdateStatus      = "updateStatus"
)

// Outbound event names.
const (
	OnlineUsers      = "onlineUsers"
	UserOnline       = "userOnline"
	UserOffline      = "userOffline"
	NewMessage       = "newMessage"
	MessageDelivered = "messageDelivered"
	MessageRead      = "messageRead"
	UserTyping       = "userTyping"
	MessageError     = "messageError"
	RoomJoined       = "roomJoined"
	UserStatusUpdate = "userStatusUpdate"
)

// ErrMalformedFrame is returned by Decode for frames that are not a valid envelope.
var ErrMalformedFrame = errors.New("malformed frame")

// Event is an outbound frame.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Inbound is a received frame whose payload has not been decoded yet.
type Inbound struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one client frame.
func Decode(frame []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if in.Name == "" {
		return Inbound{}, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	}
	return in, nil
}

// Bind decodes the payload into v. An absent payload leaves v untouched.
func (in Inbound) Bind(v any) error {
	if len(in.Data) == 0 || string(in.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, in.Name, err)
	}
	return nil
}

// Encode renders an outbound frame.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Inbound payloads.

type ConversationRequest struct {
	RecipientID string `json:"recipientId"`
}

type SendMessageRequest struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	ReplyTo     string `json:"replyTo,omitempty"`
}

type MarkAsReadRequest struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

type TypingRequest struct {
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// Outbound payloads.

// OnlineUser is one row of the presence snapshot.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
	IsTyping bool   `json:"isTyping"`
}

type OnlineUsersPayload struct {
	List []OnlineUser `json:"list"`
}

type UserOnlinePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
}

type UserOfflinePayload struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

type NewMessagePayload struct {
	Message *store.Message `json:"message"`
}

type MessageDeliveredPayload struct {
	MessageID string              `json:"messageId"`
	Status    store.MessageStatus `json:"status"`
}

type MessageReadPayload struct {
	MessageID string              `json:"messageId"`
	Status    store.MessageStatus `json:"status"`
	ReadAt    time.Time           `json:"readAt"`
}

type UserTypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type MessageErrorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type RoomJoinedPayload struct {
	RoomID      string `json:"roomId"`
	RecipientID string `json:"recipientId"`
}

type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}
