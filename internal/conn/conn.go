// Package conn defines the live client connection handle shared by the
// presence registry, the room manager and the delivery pipeline.
package conn

import "github.com/matheus3301/pigeon/internal/protocol"

// Conn is one authenticated, bidirectional client channel. It is bound to a
// single user for its whole lifetime.
type Conn interface {
	// ID is unique per connection, including across reconnects of one user.
	ID() string
	UserID() string
	Username() string
	// Send queues evt for delivery. It must not block; false means the
	// event was dropped (closed connection or full queue).
	Send(evt protocol.Event) bool
	Close() error
}
