package chat

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Subscriber receives fanned-out events for the rooms it joined.
type Subscriber interface {
	SubscriberID() string
	// Deliver must not block; a subscriber that cannot keep up drops itself.
	Deliver(room string, payload []byte, h EventHeader)
}

const registryShards = 32

type registryShard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber
}

// Registry maps rooms to their current subscribers. Rooms are spread over
// shards so joins and leaves in unrelated rooms do not wait on each other.
type Registry struct {
	shards [registryShards]registryShard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].rooms = make(map[string]map[string]Subscriber)
	}
	return r
}

func (r *Registry) shard(room string) *registryShard {
	return &r.shards[xxhash.Sum64String(room)%registryShards]
}

// Subscribe is idempotent per subscriber id.
func (r *Registry) Subscribe(room string, sub Subscriber) {
	s := r.shard(room)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[room]
	if !ok {
		members = make(map[string]Subscriber)
		s.rooms[room] = members
	}
	members[sub.SubscriberID()] = sub
}

func (r *Registry) Unsubscribe(room string, sub Subscriber) {
	s := r.shard(room)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[room]
	if !ok {
		return
	}
	delete(members, sub.SubscriberID())
	if len(members) == 0 {
		delete(s.rooms, room)
	}
}

// Subscribers returns a snapshot; delivering outside the lock keeps a slow
// room from holding up joins that hash to the same shard.
func (r *Registry) Subscribers(room string) []Subscriber {
	s := r.shard(room)
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]Subscriber, 0, len(members))
	for _, sub := range members {
		out = append(out, sub)
	}
	return out
}

func (r *Registry) Count(room string) int {
	s := r.shard(room)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

func (r *Registry) RoomCount() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.rooms)
		s.mu.RUnlock()
	}
	return n
}
