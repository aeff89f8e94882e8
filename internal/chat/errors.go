package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/pigeon/internal/protocol"
)

// Per-operation failures. They are reported to the originating connection as
// a messageError event and never close the connection.
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNotAuthorized      = errors.New("can only message friends")
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrMessageNotFound    = errors.New("message not found")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// errorEvent converts an operation error into the messageError frame the
// client sees. Store details never leak to the client.
func errorEvent(err error) protocol.Event {
	p := protocol.MessageErrorPayload{Error: "Failed to send message"}
	switch {
	case errors.Is(err, ErrInvalidRequest):
		p.Error = "Invalid request"
		p.Details = strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": ")
	case errors.Is(err, protocol.ErrMalformedFrame):
		p.Error = "Invalid request"
		p.Details = err.Error()
	case errors.Is(err, ErrNotAuthorized):
		p.Error = "You can only message friends"
	case errors.Is(err, ErrRecipientNotFound):
		p.Error = "Recipient not found"
	}
	return protocol.Event{Name: protocol.MessageError, Data: p}
}
