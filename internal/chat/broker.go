package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// BrokerMessage is one published payload addressed to a room.
type BrokerMessage struct {
	Room    string
	Payload []byte
}

type Subscription interface {
	Messages() <-chan BrokerMessage
	Close() error
}

// Broker carries room events between server instances. A Subscription sees
// every room; the hub filters by local membership.
type Broker interface {
	Publish(ctx context.Context, room string, payload []byte) error
	// Subscribe returns once the subscription is active, so nothing published
	// afterwards is missed.
	Subscribe(ctx context.Context) (Subscription, error)
}

var errBrokerClosed = errors.New("broker closed")

const channelPrefix = "chat:room:"

// RedisBroker fans out through Redis PUBLISH on one channel per room.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, room string, payload []byte) error {
	return b.client.Publish(ctx, channelPrefix+room, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context) (Subscription, error) {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	// Wait for the subscription confirmation before handing it out.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan BrokerMessage, 256),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan BrokerMessage
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		room, ok := strings.CutPrefix(msg.Channel, channelPrefix)
		if !ok {
			continue
		}
		select {
		case s.out <- BrokerMessage{Room: room, Payload: []byte(msg.Payload)}:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan BrokerMessage {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.pubsub.Close()
}

// LocalBroker keeps everything in process. It is enough for a single instance
// and for tests.
type LocalBroker struct {
	mu     sync.RWMutex
	subs   map[*localSubscription]struct{}
	closed bool
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[*localSubscription]struct{})}
}

func (b *LocalBroker) Publish(ctx context.Context, room string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBrokerClosed
	}

	msg := BrokerMessage{Room: room, Payload: payload}
	for sub := range b.subs {
		select {
		case sub.out <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBrokerClosed
	}

	sub := &localSubscription{
		broker: b,
		out:    make(chan BrokerMessage, 256),
		done:   make(chan struct{}),
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Close ends every subscription.
func (b *LocalBroker) Close() error {
	b.mu.RLock()
	for sub := range b.subs {
		sub.stop()
	}
	b.mu.RUnlock()

	b.mu.Lock()
	b.subs = make(map[*localSubscription]struct{})
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Messages is never closed; stop is signalled through done.
type localSubscription struct {
	broker *LocalBroker
	out    chan BrokerMessage
	done   chan struct{}
	once   sync.Once
}

func (s *localSubscription) Messages() <-chan BrokerMessage {
	return s.out
}

// Close stops the subscription first so a Publish blocked on it (holding
// the read lock) can return before the write lock is taken.
func (s *localSubscription) Close() error {
	s.stop()
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()
	return nil
}

func (s *localSubscription) stop() {
	s.once.Do(func() { close(s.done) })
}
