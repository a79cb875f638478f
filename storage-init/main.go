package main

import (
	"context"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	mongoURI := os.Getenv("MONGO_URI")
	database := os.Getenv("MONGO_DATABASE")
	if mongoURI == "" || database == "" {
		log.Fatal("missing MONGO_URI or MONGO_DATABASE")
	}
	defaults, err := settingsFromEnv()
	if err != nil {
		log.Fatalf("default settings: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := storage.New(ctx, mongoURI, database)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close(context.Background())

	if err := store.EnsureCollections(ctx); err != nil {
		log.Fatalf("create collections: %v", err)
	}
	created, err := store.SeedSettings(ctx, defaults)
	if err != nil {
		log.Fatalf("seed settings: %v", err)
	}
	log.WithField("settings_created", created).Info("storage init complete")
}

// settingsFromEnv builds the app settings stored on first start.
func settingsFromEnv() (domain.AppSettings, error) {
	s := domain.AppSettings{
		CompanyName:      os.Getenv("COMPANY_NAME"),
		Currency:         os.Getenv("DEFAULT_CURRENCY"),
		LowStockWarnings: domain.Ptr(true),
	}
	if v := os.Getenv("DEFAULT_VAT_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return s, err
		}
		s.VATRate = rate
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}
