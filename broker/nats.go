package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

// NATSBus publishes each message on the subject prefix.channel.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSBus connects to url, reconnecting forever on connection loss.
func NewNATSBus(url, prefix, name string) (*NATSBus, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	}
	if name != "" {
		opts = append(opts, nats.Name(name))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSBusWithConn(nc, prefix), nil
}

// NewNATSBusWithConn wraps an existing connection. Close closes it.
func NewNATSBusWithConn(nc *nats.Conn, prefix string) *NATSBus {
	prefix = strings.TrimRight(prefix, ".:")
	if prefix == "" {
		prefix = strings.TrimRight(DefaultPrefix, ":")
	}
	return &NATSBus{nc: nc, prefix: prefix}
}

func (b *NATSBus) subject(channel string) string {
	return b.prefix + "." + channel
}

func (b *NATSBus) Publish(_ context.Context, msg domain.RelayMessage) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject(msg.Channel), data)
}

func (b *NATSBus) Listen(ctx context.Context, fn func(domain.Envelope)) error {
	sub, err := b.nc.Subscribe(b.subject(">"), func(m *nats.Msg) {
		env, err := decode(m.Data)
		if err != nil {
			log.WithError(err).WithField("subject", m.Subject).Error("drop bus message")
			return
		}
		fn(env)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject(">"), err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (b *NATSBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}
