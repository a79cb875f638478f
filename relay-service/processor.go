package main

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/relay"
)

type cacheEvicter interface {
	Evict(ctx context.Context, name string)
}

// processor evicts the bulk read cache of the changed collection before the
// message goes out, so clients refetching on the event see fresh data.
type processor struct {
	cache cacheEvicter
	bus   relay.Publisher
}

func (p *processor) Publish(ctx context.Context, msg domain.RelayMessage) error {
	if p.cache != nil {
		p.cache.Evict(ctx, msg.Channel)
	}
	if err := p.bus.Publish(ctx, msg); err != nil {
		log.WithError(err).WithField("event", msg.Event()).Error("unable to publish relay message")
		return err
	}
	return nil
}

type healthReporter interface {
	Health() []relay.Status
	Healthy() bool
}

type healthResponse struct {
	Healthy  bool           `json:"healthy"`
	Watchers []relay.Status `json:"watchers"`
}

func healthz(reg healthReporter) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := healthResponse{Healthy: reg.Healthy(), Watchers: reg.Health()}
		status := http.StatusOK
		if !resp.Healthy {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, resp)
	}
}
