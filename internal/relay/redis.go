package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on top of redis pub/sub so signaling works across
// API instances. Redis pub/sub is fire-and-forget: subscribers that are not
// connected at publish time never see the message, which matches the Bus
// contract exactly.
type RedisBus struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisBus(rdb *redis.Client, log *slog.Logger) *RedisBus {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBus{rdb: rdb, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(channel string, h Handler) (func(), error) {
	// Subscription outlives the caller's request context; it is torn down
	// only by the returned unsubscribe func.
	ps := b.rdb.Subscribe(context.Background(), channel)
	if _, err := ps.Receive(context.Background()); err != nil {
		_ = ps.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h([]byte(msg.Payload))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			if err := ps.Close(); err != nil {
				b.log.Warn("relay unsubscribe failed", "channel", channel, "err", err)
			}
		})
	}, nil
}
