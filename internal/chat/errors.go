package chat

import "errors"

var (
	// ErrBusy is returned by Submit and Append while another exchange is in flight.
	ErrBusy = errors.New("chat: a reply is still in progress")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrClosed is returned once the owning view has been closed.
	ErrClosed = errors.New("chat: conversation is closed")
	// ErrTimeout is recorded when no reply starts within the send timeout.
	ErrTimeout = errors.New("chat: timed out waiting for reply")
	// ErrUnauthorized marks authentication failures. Transports wrap it so the
	// engine can route them to the token expiration handler.
	ErrUnauthorized = errors.New("chat: unauthorized")
)
