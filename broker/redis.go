package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/storage"
)

// DefaultPrefix namespaces bus channels on a shared server.
const DefaultPrefix = "lager:"

// RedisBus publishes each message on the redis channel prefix+channel.
type RedisBus struct {
	rc     *redis.Client
	prefix string
	owned  bool
}

// NewRedisBus connects to the redis server described by conn.
func NewRedisBus(conn, prefix string) *RedisBus {
	b := NewRedisBusWithClient(redis.NewClient(storage.RedisOptions(conn)), prefix)
	b.owned = true
	return b
}

// NewRedisBusWithClient uses an existing client, which the bus does not close.
func NewRedisBusWithClient(rc *redis.Client, prefix string) *RedisBus {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisBus{rc: rc, prefix: prefix}
}

func (b *RedisBus) Publish(ctx context.Context, msg domain.RelayMessage) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return b.rc.Publish(ctx, b.prefix+msg.Channel, data).Err()
}

// Listen pattern-subscribes to every channel under the prefix and
// resubscribes when the connection drops.
func (b *RedisBus) Listen(ctx context.Context, fn func(domain.Envelope)) error {
	for {
		sub := b.rc.PSubscribe(ctx, b.prefix+"*")
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return nil
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				env, err := decode([]byte(msg.Payload))
				if err != nil {
					log.WithError(err).WithField("channel", msg.Channel).Error("drop bus message")
					continue
				}
				fn(env)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Error("bus subscription closed, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func (b *RedisBus) Close() error {
	if b.owned {
		return b.rc.Close()
	}
	return nil
}
