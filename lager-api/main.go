package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/auth"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/lager-api/api"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	mongoURI := os.Getenv("MONGO_URI")
	database := os.Getenv("MONGO_DATABASE")
	if mongoURI == "" || database == "" {
		log.Fatal("missing storage config")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := storage.New(ctx, mongoURI, database)
	cancel()
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close(context.Background())

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(storage.RedisOptions(redisConn))
	defer rc.Close()
	ttl := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		ttl = d
	}
	cache := storage.NewCache(store, rc, ttl)

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

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.JSONSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.Decompress())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))

	api.Register(e, cache, authenticator, log.StandardLogger())

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("LAGER_API_PORT"); ok {
		listenAddr = ":" + val
	}
	e.Logger.Fatal(e.Start(listenAddr))
}
