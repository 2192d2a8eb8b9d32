package chat

import "errors"

var (
	// ErrPermissionDenied: the caller is not one of the room's participants.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidInput: a malformed or empty client event, or a bad room reference.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorageUnavailable: the message store or a directory could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrTransport: the socket failed; it ends the connection and is never sent to a client.
	ErrTransport = errors.New("transport error")
)
