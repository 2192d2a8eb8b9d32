package chat

import "context"

// Store is the durable message log. Implementations wrap backend failures in
// ErrStorageUnavailable.
type Store interface {
	// EnsureRoom records the room if it does not exist yet.
	EnsureRoom(ctx context.Context, room Room) error
	// Append assigns the message id and timestamp.
	Append(ctx context.Context, roomKey string, sender Participant, body string) (Message, error)
	// History is ordered by timestamp then id. A room without messages yields
	// an empty slice.
	History(ctx context.Context, roomKey string) ([]Message, error)
	// RoomsFor lists the caller's conversations; admins see every support room.
	RoomsFor(ctx context.Context, who Identity) ([]Room, error)
}
