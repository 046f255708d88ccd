package rooms

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bridge relays room emits across instances so rooms span a cluster.
type Bridge interface {
	// Publish forwards a locally emitted message to the other instances.
	Publish(room string, msg *Message) error
	// Subscribe starts feeding remote emits into deliver. Messages this
	// instance published are filtered out.
	Subscribe(deliver func(room string, msg *Message)) error
	Close() error
}

const bridgeChannel = "rooms:emit"

type bridgeEnvelope struct {
	Origin  string   `json:"origin"`
	Room    string   `json:"room"`
	Message *Message `json:"message"`
}

// RedisBridge fans room emits out over a Redis pub/sub channel.
type RedisBridge struct {
	rdb      *redis.Client
	origin   string
	pubsub   *redis.PubSub
	cancelFn context.CancelFunc
}

// NewRedisBridge creates a bridge identified by a random origin id.
func NewRedisBridge(rdb *redis.Client) *RedisBridge {
	return &RedisBridge{
		rdb:    rdb,
		origin: uuid.NewString(),
	}
}

// Publish implements Bridge.
func (b *RedisBridge) Publish(room string, msg *Message) error {
	payload, err := json.Marshal(bridgeEnvelope{
		Origin:  b.origin,
		Room:    room,
		Message: msg,
	})
	if err != nil {
		return err
	}
	return b.rdb.Publish(context.Background(), bridgeChannel, payload).Err()
}

// Subscribe implements Bridge.
func (b *RedisBridge) Subscribe(deliver func(room string, msg *Message)) error {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancelFn = cancel
	b.pubsub = b.rdb.Subscribe(ctx, bridgeChannel)

	// confirm the subscription before returning
	if _, err := b.pubsub.Receive(ctx); err != nil {
		cancel()
		return err
	}

	ch := b.pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var env bridgeEnvelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					log.Printf("rooms: bridge payload decode failed: %v", err)
					continue
				}
				if env.Origin == b.origin || env.Message == nil {
					continue
				}
				deliver(env.Room, env.Message)
			}
		}
	}()

	return nil
}

// Close implements Bridge.
func (b *RedisBridge) Close() error {
	if b.cancelFn != nil {
		b.cancelFn()
	}
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
