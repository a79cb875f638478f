package subscription

import (
	"context"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

// Listener is the receiving side of the bus.
type Listener interface {
	Listen(ctx context.Context, fn func(domain.Envelope)) error
}

// SubscribeUpdates re-emits every relay message from the bus as a frame to
// the clients of its channel until ctx is done.
func SubscribeUpdates(
	ctx context.Context,
	logger *log.Logger,
	bus Listener,
	broadcast func(channel string, data []byte) int,
) error {
	return bus.Listen(ctx, func(env domain.Envelope) {
		frame := domain.Frame{Event: domain.EventName(env.Channel, env.Op), Data: env.Payload}
		data, err := sonic.Marshal(frame)
		if err != nil {
			logger.WithError(err).WithField("event", frame.Event).Error("unable to encode frame")
			return
		}
		n := broadcast(env.Channel, data)
		logger.WithFields(log.Fields{"event": frame.Event, "clients": n}).Debug("broadcast")
	})
}
