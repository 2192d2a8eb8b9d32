package chat

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) BrokerMessage {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no broker message")
		return BrokerMessage{}
	}
}

func TestLocalBroker_PublishSubscribe(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := NewLocalBroker()
	defer b.Close()

	// Given two subscriptions
	s1, err := b.Subscribe(ctx)
	req.NoError(err)
	s2, err := b.Subscribe(ctx)
	req.NoError(err)

	// When a payload is published
	req.NoError(b.Publish(ctx, "publisher_7", []byte(`{"type":"typing"}`)))

	// Then both see it, room included
	for _, s := range []Subscription{s1, s2} {
		msg := receive(t, s)
		req.Equal("publisher_7", msg.Room)
		req.JSONEq(`{"type":"typing"}`, string(msg.Payload))
	}

	// And a closed subscription no longer blocks publishers
	req.NoError(s1.Close())
	req.NoError(b.Publish(ctx, "publisher_7", []byte(`{}`)))
	receive(t, s2)
}

func TestLocalBroker_Closed(t *testing.T) {
	req := require.New(t)
	b := NewLocalBroker()
	req.NoError(b.Close())

	req.ErrorIs(b.Publish(context.Background(), "r", nil), errBrokerClosed)
	_, err := b.Subscribe(context.Background())
	req.ErrorIs(err, errBrokerClosed)
}

func TestLocalBroker_PublishHonoursContext(t *testing.T) {
	req := require.New(t)
	b := NewLocalBroker()
	defer b.Close()

	// Given a subscription nobody drains
	_, err := b.Subscribe(context.Background())
	req.NoError(err)
	for i := 0; i < 256; i++ {
		req.NoError(b.Publish(context.Background(), "r", []byte("x")))
	}

	// Then a publish with a deadline gives up instead of hanging
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req.ErrorIs(b.Publish(ctx, "r", []byte("x")), context.DeadlineExceeded)
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	req := require.New(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	b := NewRedisBroker(client)

	// Given an active subscription
	sub, err := b.Subscribe(ctx)
	req.NoError(err)
	defer sub.Close()

	// When two rooms are published to
	req.NoError(b.Publish(ctx, "ad_123_client_9", []byte(`{"type":"message","id":1}`)))
	req.NoError(b.Publish(ctx, "publisher_7", []byte(`{"type":"typing"}`)))

	// Then the channel prefix is stripped and order is kept
	first := receive(t, sub)
	req.Equal("ad_123_client_9", first.Room)
	req.JSONEq(`{"type":"message","id":1}`, string(first.Payload))

	second := receive(t, sub)
	req.Equal("publisher_7", second.Room)
}

func TestRedisBroker_PublishFailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedisBroker(client).Publish(context.Background(), "publisher_7", []byte("x"))
	require.Error(t, err)
}
