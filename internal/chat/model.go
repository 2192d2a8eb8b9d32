package chat

import "time"

// Role is an account role as issued by the auth provider. Inside a room the
// same value describes which side of the conversation a participant is on.
type Role string

const (
	RolePublisher Role = "publisher"
	RoleClient    Role = "client"
	RoleAdmin     Role = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	ID   int64
	Name string
	Role Role
}

// Participant is an identity bound to one room. Role is room-relative: a
// publisher asking about someone else's ad is the client of that room.
type Participant struct {
	ID   int64
	Name string
	Role Role
}

// Message is immutable once stored. ID is strictly increasing within a room.
type Message struct {
	ID         int64     `json:"id"`
	RoomKey    string    `json:"-"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	SenderRole Role      `json:"sender_role"`
	Body       string    `json:"message"`
	CreatedAt  time.Time `json:"timestamp"`
}
