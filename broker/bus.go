package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

// Bus carries relay messages from the relay service to the stream service.
type Bus interface {
	Publish(ctx context.Context, msg domain.RelayMessage) error
	// Listen delivers every message published on the bus to fn until ctx is
	// done.
	Listen(ctx context.Context, fn func(domain.Envelope)) error
	Close() error
}

// Config selects and configures the bus implementation.
type Config struct {
	Kind     string
	Prefix   string
	Redis    string
	NATSURL  string
	NATSName string
}

// Open connects the bus selected by cfg.Kind, "redis" unless set.
func Open(cfg Config) (Bus, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "redis":
		if cfg.Redis == "" {
			return nil, fmt.Errorf("redis bus requires a connection string")
		}
		return NewRedisBus(cfg.Redis, cfg.Prefix), nil
	case "nats":
		return NewNATSBus(cfg.NATSURL, cfg.Prefix, cfg.NATSName)
	default:
		return nil, fmt.Errorf("unknown bus %q", cfg.Kind)
	}
}

func encode(msg domain.RelayMessage) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Event(), err)
	}
	return data, nil
}

func decode(data []byte) (domain.Envelope, error) {
	var env domain.Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return env, err
	}
	if env.Channel == "" || !env.Op.Valid() {
		return env, fmt.Errorf("invalid relay message %q", string(data))
	}
	return env, nil
}
