package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/auth"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/broker"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/stream-service/api"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/stream-service/subscription"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	bus, err := broker.Open(broker.Config{
		Kind:     os.Getenv("BUS"),
		Prefix:   os.Getenv("BUS_PREFIX"),
		Redis:    os.Getenv("REDIS_CONNECTION_STRING"),
		NATSURL:  os.Getenv("NATS_URL"),
		NATSName: "stream-service",
	})
	if err != nil {
		log.Fatalf("bus: %v", err)
	}
	defer bus.Close()

	var secret string
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		secret = os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			log.Fatal("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
	}
	authenticator, err := auth.New(auth.Config{
		Domain:     os.Getenv("AUTH0_DOMAIN"),
		Audience:   os.Getenv("AUTH0_AUDIENCE"),
		TestSecret: secret,
	})
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	defer authenticator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := api.NewHub()
	go func() {
		if err := subscription.SubscribeUpdates(ctx, log.StandardLogger(), bus, hub.Broadcast); err != nil {
			log.Errorf("bus subscription: %v", err)
			stop()
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, hub, authenticator)

	listenAddr := ":9000"
	if val, ok := os.LookupEnv("STREAM_SERVICE_PORT"); ok {
		listenAddr = ":" + val
	}
	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
