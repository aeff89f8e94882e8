package store

import "time"

// User is a registered account as seen by the messaging core.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Status       string    `json:"status"`
	IsOnline     bool      `json:"isOnline"`
	LastSeen     time.Time `json:"lastSeen"`
	CreatedAt    time.Time `json:"createdAt"`
	PasswordHash string    `json:"-"`
}

// FriendshipState is the state of the undirected edge between two users.
type FriendshipState string

const (
	FriendshipNone     FriendshipState = "none"
	FriendshipPending  FriendshipState = "pending"
	FriendshipAccepted FriendshipState = "accepted"
	FriendshipDeclined FriendshipState = "declined"
	FriendshipBlocked  FriendshipState = "blocked"
)

// Valid reports whether s can be stored on an edge. FriendshipNone is not storable.
func (s FriendshipState) Valid() bool {
	switch s {
	case FriendshipPending, FriendshipAccepted, FriendshipDeclined, FriendshipBlocked:
		return true
	}
	return false
}

// MessageStatus is the delivery state of a message. It only moves forward.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses; unknown values rank below sent.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// MessageType is the content kind of a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
	TypeAudio MessageType = "audio"
	TypeVideo MessageType = "video"
)

// Valid reports whether t is one of the enumerated message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeAudio, TypeVideo:
		return true
	}
	return false
}

// Message is a persisted direct message.
type Message struct {
	ID            string        `json:"id"`
	SenderID      string        `json:"senderId"`
	SenderName    string        `json:"senderName,omitempty"`
	RecipientID   string        `json:"recipientId"`
	RecipientName string        `json:"recipientName,omitempty"`
	Content       string        `json:"content"`
	MessageType   MessageType   `json:"messageType"`
	Status        MessageStatus `json:"status"`
	ReplyTo       string        `json:"replyTo,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	DeliveredAt   *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt        *time.Time    `json:"readAt,omitempty"`
}

// Order selects the direction of a history query.
type Order string

const (
	OldestFirst Order = "asc"
	NewestFirst Order = "desc"
)

// Page bounds a history query.
type Page struct {
	Limit  int
	Offset int
	Order  Order
}

// Conversation summarizes the latest exchange with one peer.
type Conversation struct {
	PeerID          string      `json:"userId"`
	PeerName        string      `json:"username"`
	PeerOnline      bool        `json:"isOnline"`
	PeerLastSeen    time.Time   `json:"lastSeen"`
	LastMessage     string      `json:"lastMessage"`
	LastMessageType MessageType `json:"lastMessageType"`
	LastMessageAt   time.Time   `json:"lastMessageTime"`
	UnreadCount     int         `json:"unreadCount"`
}
