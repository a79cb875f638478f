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
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/broker"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/relay"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("relay service starting")

	mongoURI := os.Getenv("MONGO_URI")
	database := os.Getenv("MONGO_DATABASE")
	if mongoURI == "" || database == "" {
		log.Fatal("missing storage config")
	}
	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	busKind := os.Getenv("BUS")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}

	backoff := relay.DefaultBackoff()
	if v := os.Getenv("RELAY_BACKOFF_INITIAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid RELAY_BACKOFF_INITIAL: %v", err)
		}
		backoff.Initial = d
	}
	if v := os.Getenv("RELAY_BACKOFF_MAX"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid RELAY_BACKOFF_MAX: %v", err)
		}
		backoff.Max = d
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	store, err := storage.New(connectCtx, mongoURI, database)
	cancel()
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close(context.Background())

	rc := redis.NewClient(storage.RedisOptions(redisConn))
	defer rc.Close()
	cache := storage.NewCache(store, rc, 0)

	var bus broker.Bus
	if busKind == "" || busKind == "redis" {
		bus = broker.NewRedisBusWithClient(rc, os.Getenv("BUS_PREFIX"))
	} else {
		bus, err = broker.Open(broker.Config{
			Kind:     busKind,
			Prefix:   os.Getenv("BUS_PREFIX"),
			NATSURL:  os.Getenv("NATS_URL"),
			NATSName: "relay-service",
		})
		if err != nil {
			log.Fatalf("bus: %v", err)
		}
	}
	defer bus.Close()

	proc := &processor{cache: cache, bus: bus}
	reg := relay.NewRegistry()
	for _, kind := range domain.Kinds() {
		if _, err := reg.Start(ctx, relay.CollectionSource(store.Collection(kind)), kind, proc, relay.WithRetryer(backoff)); err != nil {
			log.Fatalf("watch %s: %v", kind.Name, err)
		}
		log.WithField("collection", kind.Collection).Info("watching")
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/healthz", healthz(reg))

	listenAddr := ":8081"
	if val, ok := os.LookupEnv("RELAY_SERVICE_PORT"); ok {
		listenAddr = ":" + val
	}
	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("health server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	reg.StopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
