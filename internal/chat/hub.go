package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Hub is the broadcast channel layer: it publishes room events through the
// broker and fans whatever the broker delivers out to local subscribers.
// The sender is subscribed to its own room, so it receives its own events
// through the same path as everyone else.
type Hub struct {
	registry *Registry
	broker   Broker
	log      *slog.Logger
	done     chan struct{}
}

func NewHub(broker Broker, log *slog.Logger) *Hub {
	return &Hub{
		registry: NewRegistry(),
		broker:   broker,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start subscribes to the broker and returns once events can flow. The fan-out
// loop runs until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	sub, err := h.broker.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("hub subscribe: %w", err)
	}
	go h.run(ctx, sub)
	return nil
}

// Wait blocks until the fan-out loop has stopped.
func (h *Hub) Wait() {
	<-h.done
}

func (h *Hub) run(ctx context.Context, sub Subscription) {
	defer close(h.done)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("hub stopping")
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				h.log.Error("broker subscription closed")
				return
			}
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg BrokerMessage) {
	hdr, err := peekHeader(msg.Payload)
	if err != nil {
		h.log.Warn("dropping undecodable broadcast", "room", msg.Room, "error", err)
		return
	}
	for _, sub := range h.registry.Subscribers(msg.Room) {
		sub.Deliver(msg.Room, msg.Payload, hdr)
	}
}

func (h *Hub) Subscribe(room string, sub Subscriber) {
	h.registry.Subscribe(room, sub)
}

func (h *Hub) Unsubscribe(room string, sub Subscriber) {
	h.registry.Unsubscribe(room, sub)
}

// Publish hands an event to the broker. Delivery is at-most-once to the
// subscribers present when the broker fans it out; a failure here means
// nobody, the sender included, received it.
func (h *Hub) Publish(ctx context.Context, room string, ev ServerEvent) error {
	payload, err := EncodeServerEvent(ev)
	if err != nil {
		return err
	}
	if err := h.broker.Publish(ctx, room, payload); err != nil {
		return fmt.Errorf("%w: publish to %s: %w", ErrTransport, room, err)
	}
	return nil
}

// Subscribers reports how many local connections a room has.
func (h *Hub) Subscribers(room string) int {
	return h.registry.Count(room)
}

// Rooms reports how many rooms have at least one local connection.
func (h *Hub) Rooms() int {
	return h.registry.RoomCount()
}

var errHubStopped = errors.New("hub stopped")

// Stopped reports errHubStopped once the fan-out loop is gone.
func (h *Hub) Stopped() error {
	select {
	case <-h.done:
		return errHubStopped
	default:
		return nil
	}
}
