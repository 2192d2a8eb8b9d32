// Package badgerstore keeps chat rooms and messages in an embedded BadgerDB.
//
// Keys:
//
//	room:{roomKey}              JSON room
//	msg:{roomKey}:{seq:020d}    JSON message
//	seq:{roomKey}               badger.Sequence lease
//
// The zero-padded sequence makes a prefix scan return a room's messages in
// append order, which is also timestamp order.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"market-chat/internal/chat"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const (
	roomPrefix    = "room:"
	msgPrefix     = "msg:"
	seqPrefix     = "seq:"
	sequenceLease = 100
)

type Store struct {
	db    *badger.DB
	log   *slog.Logger
	owned bool

	mu    sync.Mutex
	rooms map[string]*roomLog
}

// roomLog serializes appends within one room. Rooms never share one.
type roomLog struct {
	mu   sync.Mutex
	seq  *badger.Sequence
	last time.Time
}

type storedMessage struct {
	ID         int64     `json:"id"`
	Room       string    `json:"room"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	SenderRole chat.Role `json:"sender_role"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// Open opens (or creates) the database at path. Close releases it.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	s := New(db, log)
	s.owned = true
	return s, nil
}

// New wraps a database the caller keeps ownership of.
func New(db *badger.DB, log *slog.Logger) *Store {
	return &Store{
		db:    db,
		log:   log,
		rooms: make(map[string]*roomLog),
	}
}

// Close returns unused sequence leases and, when the store opened the
// database itself, closes it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for key, rl := range s.rooms {
		if err := rl.seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sequence %s: %w", key, err))
		}
	}
	s.rooms = make(map[string]*roomLog)

	if s.owned {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func (s *Store) EnsureRoom(_ context.Context, room chat.Room) error {
	key := []byte(roomPrefix + room.Key)
	for attempt := 0; attempt < 3; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			room.CreatedAt = time.Now().UTC()
			value, err := json.Marshal(room)
			if err != nil {
				return err
			}
			return txn.Set(key, value)
		})
		if errors.Is(err, badger.ErrConflict) {
			// Someone else created it concurrently; the next read sees it.
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: ensure room %s: %v", chat.ErrStorageUnavailable, room.Key, err)
		}
		return nil
	}
	return fmt.Errorf("%w: ensure room %s: %v", chat.ErrStorageUnavailable, room.Key, badger.ErrConflict)
}

func (s *Store) Append(_ context.Context, roomKey string, sender chat.Participant, body string) (chat.Message, error) {
	rl, err := s.roomLog(roomKey)
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: append to %s: %v", chat.ErrStorageUnavailable, roomKey, err)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	next, err := rl.seq.Next()
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: append to %s: %v", chat.ErrStorageUnavailable, roomKey, err)
	}

	// Ids start at 1; timestamps never go backwards within a room.
	now := time.Now().UTC()
	if !now.After(rl.last) {
		now = rl.last.Add(time.Microsecond)
	}
	stored := storedMessage{
		ID:         int64(next) + 1,
		Room:       roomKey,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		SenderRole: sender.Role,
		Body:       body,
		CreatedAt:  now,
	}
	value, err := json.Marshal(stored)
	if err != nil {
		return chat.Message{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(roomKey, stored.ID), value)
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: append to %s: %v", chat.ErrStorageUnavailable, roomKey, err)
	}
	rl.last = now
	return toMessage(stored), nil
}

func (s *Store) History(_ context.Context, roomKey string) ([]chat.Message, error) {
	messages := []chat.Message{}
	prefix := []byte(msgPrefix + roomKey + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var stored storedMessage
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &stored)
			})
			if err != nil {
				return err
			}
			messages = append(messages, toMessage(stored))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: history of %s: %v", chat.ErrStorageUnavailable, roomKey, err)
	}
	return messages, nil
}

func (s *Store) RoomsFor(_ context.Context, who chat.Identity) ([]chat.Room, error) {
	var all []chat.Room
	prefix := []byte(roomPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var room chat.Room
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &room)
			})
			if err != nil {
				return err
			}
			all = append(all, room)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: rooms for %d: %v", chat.ErrStorageUnavailable, who.ID, err)
	}

	rooms := lo.Filter(all, func(room chat.Room, _ int) bool {
		if who.Role == chat.RoleAdmin {
			return room.Kind == chat.RoomKindSupport
		}
		return room.PublisherID == who.ID || room.ClientID == who.ID
	})
	slices.SortFunc(rooms, func(a, b chat.Room) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return rooms, nil
}

// roomLog returns the append state of a room, loading the last timestamp on
// first use so the clamp holds across restarts.
func (s *Store) roomLog(roomKey string) (*roomLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rl, ok := s.rooms[roomKey]; ok {
		return rl, nil
	}

	seq, err := s.db.GetSequence([]byte(seqPrefix+roomKey), sequenceLease)
	if err != nil {
		return nil, err
	}
	last, err := s.lastTimestamp(roomKey)
	if err != nil {
		_ = seq.Release()
		return nil, err
	}

	rl := &roomLog{seq: seq, last: last}
	s.rooms[roomKey] = rl
	s.log.Debug("room log opened", "room", roomKey, "last", last)
	return rl, nil
}

func (s *Store) lastTimestamp(roomKey string) (time.Time, error) {
	var last time.Time
	prefix := []byte(msgPrefix + roomKey + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// 0xFF sorts after every digit, so the seek lands on the newest key.
		it.Seek(append(prefix, 0xFF))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		var stored storedMessage
		if err := it.Item().Value(func(value []byte) error {
			return json.Unmarshal(value, &stored)
		}); err != nil {
			return err
		}
		last = stored.CreatedAt
		return nil
	})
	return last, err
}

func messageKey(roomKey string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", msgPrefix, roomKey, id))
}

func toMessage(stored storedMessage) chat.Message {
	return chat.Message{
		ID:         stored.ID,
		RoomKey:    stored.Room,
		SenderID:   stored.SenderID,
		SenderName: stored.SenderName,
		SenderRole: stored.SenderRole,
		Body:       stored.Body,
		CreatedAt:  stored.CreatedAt,
	}
}
