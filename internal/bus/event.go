package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. The prefix before the first dot is the namespace subscribers filter on.
const (
	KindMessageSent      = "message.sent"
	KindMessageDelivered = "message.delivered"
	KindMessageRead      = "message.read"
	KindMessageRejected  = "message.rejected"

	KindPresenceOnline  = "presence.online"
	KindPresenceOffline = "presence.offline"
	KindPresenceStatus  = "presence.status"

	KindDaemonStatus = "daemon.status_changed"
)
