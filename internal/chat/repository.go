package chat

import (
	"context"
	"database/sql"
	"fmt"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) EnsureRoom(ctx context.Context, room Room) error {
	query := `
		INSERT INTO chat_rooms (key, kind, ad_id, publisher_id, client_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, room.Key, room.Kind, nullID(room.AdID), room.PublisherID, nullID(room.ClientID))
	if err != nil {
		return fmt.Errorf("%w: ensure room %s: %v", ErrStorageUnavailable, room.Key, err)
	}
	return nil
}

// Append holds a per-room advisory lock for the insert so that, within a
// room, ids and timestamps both follow append order.
func (r *Repository) Append(ctx context.Context, roomKey string, sender Participant, body string) (Message, error) {
	msg := Message{
		RoomKey:    roomKey,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		SenderRole: sender.Role,
		Body:       body,
	}
	fail := func(err error) (Message, error) {
		return Message{}, fmt.Errorf("%w: append to %s: %v", ErrStorageUnavailable, roomKey, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, roomKey); err != nil {
		return fail(err)
	}
	query := `
		INSERT INTO chat_messages (room_key, sender_id, sender_name, sender_role, body, created_at)
		SELECT $1, $2, $3, $4, $5, GREATEST(clock_timestamp(), MAX(created_at) + INTERVAL '1 microsecond')
		FROM chat_messages
		WHERE room_key = $1
		RETURNING id, created_at
	`
	err = tx.QueryRowContext(ctx, query, roomKey, sender.ID, sender.Name, sender.Role, body).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fail(err)
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (r *Repository) History(ctx context.Context, roomKey string) ([]Message, error) {
	query := `
		SELECT id, sender_id, sender_name, sender_role, body, created_at
		FROM chat_messages
		WHERE room_key = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, roomKey)
	if err != nil {
		return nil, fmt.Errorf("%w: history of %s: %v", ErrStorageUnavailable, roomKey, err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg := Message{RoomKey: roomKey}
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.SenderName, &msg.SenderRole, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: history of %s: %v", ErrStorageUnavailable, roomKey, err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: history of %s: %v", ErrStorageUnavailable, roomKey, err)
	}
	return messages, nil
}

func (r *Repository) RoomsFor(ctx context.Context, who Identity) ([]Room, error) {
	base := `SELECT key, kind, ad_id, publisher_id, client_id, created_at FROM chat_rooms`
	var (
		rows *sql.Rows
		err  error
	)
	if who.Role == RoleAdmin {
		rows, err = r.db.QueryContext(ctx, base+` WHERE kind = 'support' ORDER BY created_at DESC`)
	} else {
		rows, err = r.db.QueryContext(ctx, base+` WHERE publisher_id = $1 OR client_id = $1 ORDER BY created_at DESC`, who.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: rooms for %d: %v", ErrStorageUnavailable, who.ID, err)
	}
	defer rows.Close()

	rooms := []Room{}
	for rows.Next() {
		var (
			room           Room
			adID, clientID sql.NullInt64
		)
		if err := rows.Scan(&room.Key, &room.Kind, &adID, &room.PublisherID, &clientID, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: rooms for %d: %v", ErrStorageUnavailable, who.ID, err)
		}
		room.AdID = adID.Int64
		room.ClientID = clientID.Int64
		room.CreatedAt = room.CreatedAt.UTC()
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rooms for %d: %v", ErrStorageUnavailable, who.ID, err)
	}
	return rooms, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
